// Package schema defines the task and video-specification payloads the worker
// consumes, plus the derived helpers (scene ids, credit costs, config
// resolution) the rest of the pipeline relies on.
package schema

import (
	"time"
)

type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskInProgress TaskStatus = "in_progress"
	TaskFinished   TaskStatus = "finished"
	TaskFailed     TaskStatus = "failed"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskFinished || s == TaskFailed
}

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskQueued, TaskInProgress, TaskFinished, TaskFailed:
		return true
	default:
		return false
	}
}

// TaskResult is recorded on the task row when a render finishes.
type TaskResult struct {
	OutputURL       string  `json:"output_url"`
	LocalPath       string  `json:"local_path,omitempty"`
	Duration        float64 `json:"duration"`
	PostDescription string  `json:"post_description,omitempty"`
}

// Task is one unit of work: a video specification plus lifecycle state.
// started_at and finished_at are write-once; transitions out of a terminal
// state are rejected by the store.
type Task struct {
	ID         string      `json:"id"`
	Status     TaskStatus  `json:"status"`
	Spec       VideoSpec   `json:"spec"`
	UserKey    string      `json:"user_key"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Result     *TaskResult `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	LogURL     string      `json:"log_url,omitempty"`
}

type User struct {
	Key     string `json:"key"`
	APIKey  string `json:"api_key"`
	Credits int    `json:"credits"`
}

// CreditEntry is an append-only ledger row; rows are never mutated.
type CreditEntry struct {
	UserKey   string    `json:"user_key"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
}

type SceneType string

const (
	SceneImage SceneType = "image"
	SceneVideo SceneType = "video"
)

type ImageProvider string

const (
	ImageProviderOpenAI  ImageProvider = "openai"
	ImageProviderFreepik ImageProvider = "freepik"
	ImageProviderGemini  ImageProvider = "gemini"
)

type VideoProvider string

const (
	VideoProviderLumaAI  VideoProvider = "lumaai"
	VideoProviderKlingAI VideoProvider = "klingai"
)

type Position string

const (
	PositionTopLeft     Position = "top-left"
	PositionTopRight    Position = "top-right"
	PositionBottomLeft  Position = "bottom-left"
	PositionBottomRight Position = "bottom-right"
	PositionCenter      Position = "center"
)

type LogoConfig struct {
	URL             string   `json:"url"`
	Position        Position `json:"position,omitempty"`
	Opacity         float64  `json:"opacity,omitempty"`
	Size            int      `json:"size,omitempty"`
	Margin          int      `json:"margin,omitempty"`
	ShowInAllScenes bool     `json:"show_in_all_scenes,omitempty"`
	CTAScreen       bool     `json:"cta_screen,omitempty"`
}

type SubtitlePosition string

const (
	SubtitleTop    SubtitlePosition = "top"
	SubtitleMiddle SubtitlePosition = "middle"
	SubtitleBottom SubtitlePosition = "bottom"
)

type SubtitleConfig struct {
	Font           string           `json:"font,omitempty"`
	FontSize       int              `json:"font_size,omitempty"`
	Color          string           `json:"color,omitempty"`
	StrokeColor    string           `json:"stroke_color,omitempty"`
	StrokeWidth    int              `json:"stroke_width,omitempty"`
	Position       SubtitlePosition `json:"position,omitempty"`
	HighlightColor string           `json:"highlight_color,omitempty"`
	LineCount      int              `json:"line_count,omitempty"`
	Highlight      *bool            `json:"highlight,omitempty"`
}

type TransitionType string

const (
	TransitionCrossfade TransitionType = "crossfade"
	TransitionFade      TransitionType = "fade"
	TransitionNone      TransitionType = "none"
)

type TransitionConfig struct {
	Type            TransitionType `json:"type,omitempty"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
}

type TextOverlay struct {
	Content     string   `json:"content"`
	Position    Position `json:"position,omitempty"`
	FontSize    int      `json:"font_size,omitempty"`
	Color       string   `json:"color,omitempty"`
	StrokeColor string   `json:"stroke_color,omitempty"`
	StrokeWidth int      `json:"stroke_width,omitempty"`
	Font        string   `json:"font,omitempty"`
	Padding     int      `json:"padding,omitempty"`
	Opacity     float64  `json:"opacity,omitempty"`
	Preset      string   `json:"preset,omitempty"`
}

// Animation selects the Ken Burns style motion for image scenes. Either an
// explicit mode pair or a preset; when neither is given a random zoom is
// picked at render time.
type Animation struct {
	Zoom         string  `json:"zoom,omitempty"`
	Motion       string  `json:"motion,omitempty"`
	Preset       string  `json:"preset,omitempty"`
	DarkenFactor float64 `json:"darken_factor,omitempty"`
	DriftPx      int     `json:"drift_px,omitempty"`
	OscPx        int     `json:"osc_px,omitempty"`
}

type Scene struct {
	SceneID string    `json:"scene_id,omitempty"`
	Type    SceneType `json:"type"`

	ImageURL        string `json:"image_url,omitempty"`
	PromptImage     string `json:"prompt_image,omitempty"`
	PromptEditImage string `json:"prompt_edit_image,omitempty"`
	VideoURL        string `json:"video_url,omitempty"`
	PromptVideo     string `json:"prompt_video,omitempty"`
	// VideoKeywords selects stock footage instead of a fixed URL or a
	// generation prompt.
	VideoKeywords []string `json:"video_keywords,omitempty"`

	ImageProvider ImageProvider `json:"image_provider,omitempty"`
	VideoProvider VideoProvider `json:"video_provider,omitempty"`

	Narration      string `json:"narration,omitempty"`
	NarrationText  string `json:"narration_text,omitempty"`
	AudioPromptURL string `json:"audio_prompt_url,omitempty"`

	Duration int `json:"duration,omitempty"`

	Subtitle       bool              `json:"subtitle,omitempty"`
	SubtitleConfig *SubtitleConfig   `json:"subtitle_config,omitempty"`
	Logo           *LogoConfig       `json:"logo,omitempty"`
	Text           *TextOverlay      `json:"text,omitempty"`
	Animation      *Animation        `json:"animation,omitempty"`
	Transition     *TransitionConfig `json:"transition,omitempty"`
}

// VideoSpec is the immutable payload of a task.
type VideoSpec struct {
	Scenes           []Scene           `json:"scenes"`
	NarrationText    string            `json:"narration_text,omitempty"`
	AudioPromptURL   string            `json:"audio_prompt_url,omitempty"`
	Logo             *LogoConfig       `json:"logo,omitempty"`
	GlobalSubtitles  *SubtitleConfig   `json:"global_subtitle_config,omitempty"`
	GlobalTransition *TransitionConfig `json:"global_transition_config,omitempty"`
	OutputFilename   string            `json:"output_filename"`
	ProductImages    []string          `json:"product_images,omitempty"`
	PostDescription  string            `json:"post_description,omitempty"`
}

// IsEcommerce reports whether the payload carries product reference images,
// which forces sequential scene processing.
func (s *VideoSpec) IsEcommerce() bool {
	return len(s.ProductImages) > 0
}
