package clients

import (
	"context"
)

// ProviderKind tags each concrete provider client so fallback chains and
// cache keys can name the implementation that actually produced an artifact.
type ProviderKind string

const (
	ProviderElevenLabs ProviderKind = "elevenlabs"
	ProviderLocalTTS   ProviderKind = "local-tts"
	ProviderOpenAI     ProviderKind = "openai"
	ProviderFreepik    ProviderKind = "freepik"
	ProviderGemini     ProviderKind = "gemini"
	ProviderLumaAI     ProviderKind = "lumaai"
	ProviderKlingAI    ProviderKind = "klingai"
	ProviderPixabay    ProviderKind = "pixabay"
	ProviderPexels     ProviderKind = "pexels"
)

// TTSRequest asks for narration audio for one scene.
type TTSRequest struct {
	Text           string
	AudioPromptURL string
	// Where the resulting MP3 should land.
	OutputPath string
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, taskID string, req TTSRequest) error
}

// ImageRequest asks for one generated image.
type ImageRequest struct {
	Prompt string
	// SceneContext and VideoContext disambiguate otherwise-identical prompts
	// at different positions in the scene graph; both participate in cache
	// keys upstream.
	SceneContext  string
	VideoContext  string
	ProductImages []string
	OutputPath    string
}

type ImageGenerator interface {
	Kind() ProviderKind
	GenerateImage(ctx context.Context, taskID string, req ImageRequest) error
}

// VideoRequest asks for one generated video clip.
type VideoRequest struct {
	Prompt      string
	ImageURL    string
	Duration    int
	AspectRatio string
	Resolution  string
	Model       string
	// Accepted by the provider APIs but not populated anywhere yet.
	NegativePrompt string
	OutputPath     string
}

type VideoGenerator interface {
	Kind() ProviderKind
	GenerateVideo(ctx context.Context, taskID string, req VideoRequest) error
}

// StockQuery searches stock footage providers.
type StockQuery struct {
	Keywords      []string
	PerKeywordCap int
	Orientation   string
}

// StockVideo is one search hit.
type StockVideo struct {
	URL      string  `json:"url"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Duration float64 `json:"duration"`
	Source   string  `json:"source"`
	Query    string  `json:"query"`
}

type StockVideoSearcher interface {
	Search(ctx context.Context, taskID string, q StockQuery) ([]StockVideo, error)
}

type ImageEditor interface {
	EditImage(ctx context.Context, taskID, sourceImagePath, editPrompt, outputPath string) error
}

// Word is one transcribed token with its time span, used for subtitle sync.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type Transcriber interface {
	TranscribeWords(ctx context.Context, taskID, audioPath string) ([]Word, error)
}
