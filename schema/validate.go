package schema

import (
	"fmt"
	"strings"

	xerrors "github.com/reelforge/reel-worker/errors"
	"github.com/xeipuuv/gojsonschema"
)

var videoSpecSchema = `{
	"type": "object",
	"required": ["scenes", "output_filename"],
	"properties": {
		"scenes": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["type"],
				"properties": {
					"type": {"type": "string", "enum": ["image", "video"]},
					"image_url": {"type": "string"},
					"prompt_image": {"type": "string"},
					"prompt_edit_image": {"type": "string"},
					"video_url": {"type": "string"},
					"prompt_video": {"type": "string"},
					"video_keywords": {"type": "array", "items": {"type": "string"}},
					"image_provider": {"type": "string", "enum": ["openai", "freepik", "gemini"]},
					"video_provider": {"type": "string", "enum": ["lumaai", "klingai"]},
					"duration": {"type": "integer", "minimum": 0},
					"narration": {"type": "string"},
					"narration_text": {"type": "string"}
				}
			}
		},
		"output_filename": {"type": "string", "minLength": 1},
		"narration_text": {"type": "string"},
		"audio_prompt_url": {"type": "string"},
		"product_images": {"type": "array", "items": {"type": "string"}},
		"logo": {
			"type": "object",
			"required": ["url"],
			"properties": {
				"url": {"type": "string"},
				"position": {"type": "string", "enum": ["top-left", "top-right", "bottom-left", "bottom-right", "center"]},
				"opacity": {"type": "number", "minimum": 0, "maximum": 1}
			}
		},
		"global_transition_config": {
			"type": "object",
			"properties": {
				"type": {"type": "string", "enum": ["crossfade", "fade", "none"]},
				"duration_seconds": {"type": "number", "minimum": 0}
			}
		}
	}
}`

var videoSpecSchemaLoader = gojsonschema.NewStringLoader(videoSpecSchema)

// ValidateVideoSpecJSON checks a raw payload against the JSON schema before
// decoding. Returns an InputInvalid error listing every violation.
func ValidateVideoSpecJSON(payload []byte) error {
	result, err := gojsonschema.Validate(videoSpecSchemaLoader, gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return xerrors.NewInputInvalidError("cannot validate payload: %s", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return xerrors.NewInputInvalidError("payload validation failed: %s", strings.Join(msgs, "; "))
}

// Validate enforces the semantic constraints the JSON schema cannot express:
// at most one primary media selector per scene and a usable source for each.
func (s *VideoSpec) Validate() error {
	if len(s.Scenes) == 0 {
		return xerrors.NewInputInvalidError("payload has no scenes")
	}
	if s.OutputFilename == "" {
		return xerrors.NewInputInvalidError("output_filename is required")
	}
	for i := range s.Scenes {
		if err := validateScene(&s.Scenes[i], i); err != nil {
			return err
		}
	}
	return nil
}

func validateScene(sc *Scene, index int) error {
	label := sc.SceneID
	if label == "" {
		label = fmt.Sprintf("scene %d", index+1)
	}
	switch sc.Type {
	case SceneImage:
		selectors := countNonEmpty(sc.ImageURL, sc.PromptImage, sc.PromptEditImage)
		if selectors == 0 {
			return xerrors.NewInputInvalidError("%s: image scene needs image_url, prompt_image or prompt_edit_image", label)
		}
		if countNonEmpty(sc.ImageURL, sc.PromptImage) > 1 {
			return xerrors.NewInputInvalidError("%s: image_url and prompt_image are mutually exclusive", label)
		}
		if sc.VideoURL != "" || sc.PromptVideo != "" {
			return xerrors.NewInputInvalidError("%s: image scene cannot carry video selectors", label)
		}
	case SceneVideo:
		selectors := countNonEmpty(sc.VideoURL, sc.PromptVideo)
		if len(sc.VideoKeywords) > 0 {
			selectors++
		}
		if selectors != 1 {
			return xerrors.NewInputInvalidError("%s: video scene needs exactly one of video_url, prompt_video or video_keywords", label)
		}
		if sc.ImageURL != "" || sc.PromptEditImage != "" {
			return xerrors.NewInputInvalidError("%s: video scene cannot carry image selectors", label)
		}
	default:
		return xerrors.NewInputInvalidError("%s: unknown scene type %q", label, sc.Type)
	}
	if sc.Narration != "" && sc.NarrationText != "" {
		return xerrors.NewInputInvalidError("%s: narration and narration_text are mutually exclusive", label)
	}
	return nil
}

func countNonEmpty(values ...string) int {
	n := 0
	for _, v := range values {
		if v != "" {
			n++
		}
	}
	return n
}
