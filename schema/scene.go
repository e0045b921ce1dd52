package schema

import (
	"fmt"
	"strings"
	"unicode"
)

const maxSlugLen = 24

// SceneCost is the credit price of rendering one scene. Generated video is by
// far the most expensive operation; everything else costs a single credit.
func SceneCost(s *Scene) int {
	if s.Type == SceneVideo && s.PromptVideo != "" {
		return 5
	}
	return 1
}

// SpecCost is the total credit price of a payload.
func (s *VideoSpec) Cost() int {
	total := 0
	for i := range s.Scenes {
		total += SceneCost(&s.Scenes[i])
	}
	return total
}

// EnsureSceneIDs fills in any missing scene ids as
// "{type}_{index+1}_{slug-of-content}".
func (s *VideoSpec) EnsureSceneIDs() {
	for i := range s.Scenes {
		if s.Scenes[i].SceneID == "" {
			s.Scenes[i].SceneID = synthesizeSceneID(&s.Scenes[i], i)
		}
	}
}

func synthesizeSceneID(s *Scene, index int) string {
	content := s.PromptImage
	if content == "" {
		content = s.PromptVideo
	}
	if content == "" {
		content = s.NarrationText
	}
	if content == "" {
		content = s.ImageURL
	}
	if content == "" {
		content = s.VideoURL
	}
	if content == "" && len(s.VideoKeywords) > 0 {
		content = strings.Join(s.VideoKeywords, " ")
	}
	slug := slugify(content)
	if slug == "" {
		slug = "scene"
	}
	return fmt.Sprintf("%s_%d_%s", s.Type, index+1, slug)
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// UsesKlingVideo reports whether rendering this scene submits a KlingAI
// generation, which is subject to the per-task concurrency cap.
func (s *Scene) UsesKlingVideo() bool {
	return s.Type == SceneVideo && s.PromptVideo != "" && s.VideoProvider == VideoProviderKlingAI
}

// DefaultSubtitleConfig is the style applied when neither the scene nor the
// payload configures subtitles.
func DefaultSubtitleConfig() SubtitleConfig {
	highlight := true
	return SubtitleConfig{
		Font:           "DejaVuSans-Bold",
		FontSize:       64,
		Color:          "&H00FFFFFF",
		StrokeColor:    "&H00000000",
		StrokeWidth:    3,
		Position:       SubtitleBottom,
		HighlightColor: "&H0000FFFF",
		LineCount:      1,
		Highlight:      &highlight,
	}
}

// ResolveSubtitleConfig merges the per-scene override over the payload-global
// config over the defaults. Zero values never override.
func ResolveSubtitleConfig(scene *Scene, spec *VideoSpec) SubtitleConfig {
	out := DefaultSubtitleConfig()
	for _, layer := range []*SubtitleConfig{spec.GlobalSubtitles, scene.SubtitleConfig} {
		if layer == nil {
			continue
		}
		if layer.Font != "" {
			out.Font = layer.Font
		}
		if layer.FontSize > 0 {
			out.FontSize = layer.FontSize
		}
		if layer.Color != "" {
			out.Color = layer.Color
		}
		if layer.StrokeColor != "" {
			out.StrokeColor = layer.StrokeColor
		}
		if layer.StrokeWidth > 0 {
			out.StrokeWidth = layer.StrokeWidth
		}
		if layer.Position != "" {
			out.Position = layer.Position
		}
		if layer.HighlightColor != "" {
			out.HighlightColor = layer.HighlightColor
		}
		if layer.LineCount > 0 {
			out.LineCount = layer.LineCount
		}
		if layer.Highlight != nil {
			out.Highlight = layer.Highlight
		}
	}
	return out
}

// ResolveTransition picks the transition between scene i and i+1: the
// override on the earlier scene wins over the payload-global config; with
// neither, no transition.
func ResolveTransition(scene *Scene, spec *VideoSpec) TransitionConfig {
	out := TransitionConfig{Type: TransitionNone, DurationSeconds: 1.0}
	if spec.GlobalTransition != nil && spec.GlobalTransition.Type != "" {
		out.Type = spec.GlobalTransition.Type
		if spec.GlobalTransition.DurationSeconds > 0 {
			out.DurationSeconds = spec.GlobalTransition.DurationSeconds
		}
	}
	if scene != nil && scene.Transition != nil && scene.Transition.Type != "" {
		out.Type = scene.Transition.Type
		if scene.Transition.DurationSeconds > 0 {
			out.DurationSeconds = scene.Transition.DurationSeconds
		}
	}
	return out
}

// ResolveLogo picks the per-scene logo override, falling back to the global
// logo when it is marked for all scenes.
func ResolveLogo(scene *Scene, spec *VideoSpec) *LogoConfig {
	if scene != nil && scene.Logo != nil {
		return scene.Logo
	}
	if spec.Logo != nil && spec.Logo.ShowInAllScenes {
		return spec.Logo
	}
	return nil
}

// SplitGlobalNarration distributes a payload-global narration text across the
// scenes, overriding any per-scene narration. The text is split on sentence
// boundaries and grouped into one chunk per scene; duration splits uniformly
// when sentences don't divide evenly.
func (s *VideoSpec) SplitGlobalNarration() {
	if s.NarrationText == "" || len(s.Scenes) == 0 {
		return
	}
	chunks := splitIntoChunks(s.NarrationText, len(s.Scenes))
	for i := range s.Scenes {
		s.Scenes[i].Narration = ""
		s.Scenes[i].NarrationText = chunks[i]
		if s.Scenes[i].AudioPromptURL == "" {
			s.Scenes[i].AudioPromptURL = s.AudioPromptURL
		}
	}
}

func splitIntoChunks(text string, n int) []string {
	sentences := splitSentences(text)
	chunks := make([]string, n)
	if len(sentences) <= n {
		for i := range chunks {
			if i < len(sentences) {
				chunks[i] = sentences[i]
			} else {
				chunks[i] = ""
			}
		}
		return chunks
	}
	per := (len(sentences) + n - 1) / n
	for i := 0; i < n; i++ {
		start := i * per
		end := start + per
		if start >= len(sentences) {
			chunks[i] = ""
			continue
		}
		if end > len(sentences) {
			end = len(sentences)
		}
		chunks[i] = strings.Join(sentences[start:end], " ")
	}
	return chunks
}

func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}
