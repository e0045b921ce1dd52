package schema

import (
	"testing"

	xerrors "github.com/reelforge/reel-worker/errors"
	"github.com/stretchr/testify/require"
)

func TestSceneCost(t *testing.T) {
	require.Equal(t, 1, SceneCost(&Scene{Type: SceneImage, PromptImage: "a cat"}))
	require.Equal(t, 1, SceneCost(&Scene{Type: SceneVideo, VideoURL: "https://example.com/v.mp4"}))
	require.Equal(t, 5, SceneCost(&Scene{Type: SceneVideo, PromptVideo: "a cat runs"}))

	spec := VideoSpec{Scenes: []Scene{
		{Type: SceneImage, ImageURL: "https://example.com/x.png"},
		{Type: SceneVideo, PromptVideo: "sunset"},
	}}
	require.Equal(t, 6, spec.Cost())
}

func TestEnsureSceneIDs(t *testing.T) {
	spec := VideoSpec{Scenes: []Scene{
		{Type: SceneImage, PromptImage: "A Red Fox, Jumping!"},
		{Type: SceneVideo, VideoURL: "https://example.com/clip.mp4", SceneID: "keep_me"},
		{Type: SceneImage, ImageURL: "https://example.com/y.png"},
	}}
	spec.EnsureSceneIDs()
	require.Equal(t, "image_1_a-red-fox-jumping", spec.Scenes[0].SceneID)
	require.Equal(t, "keep_me", spec.Scenes[1].SceneID)
	require.Contains(t, spec.Scenes[2].SceneID, "image_3_")
}

func TestUsesKlingVideo(t *testing.T) {
	require.True(t, (&Scene{Type: SceneVideo, PromptVideo: "x", VideoProvider: VideoProviderKlingAI}).UsesKlingVideo())
	require.False(t, (&Scene{Type: SceneVideo, PromptVideo: "x", VideoProvider: VideoProviderLumaAI}).UsesKlingVideo())
	require.False(t, (&Scene{Type: SceneVideo, VideoURL: "u", VideoProvider: VideoProviderKlingAI}).UsesKlingVideo())
}

func TestResolveSubtitleConfig(t *testing.T) {
	spec := &VideoSpec{GlobalSubtitles: &SubtitleConfig{FontSize: 48, Color: "&H00FF0000"}}
	scene := &Scene{SubtitleConfig: &SubtitleConfig{FontSize: 72}}

	cfg := ResolveSubtitleConfig(scene, spec)
	require.Equal(t, 72, cfg.FontSize)            // scene wins
	require.Equal(t, "&H00FF0000", cfg.Color)     // global fills in
	require.Equal(t, SubtitleBottom, cfg.Position) // default survives
}

func TestResolveTransition(t *testing.T) {
	spec := &VideoSpec{GlobalTransition: &TransitionConfig{Type: TransitionCrossfade, DurationSeconds: 0.5}}
	cfg := ResolveTransition(&Scene{}, spec)
	require.Equal(t, TransitionCrossfade, cfg.Type)
	require.Equal(t, 0.5, cfg.DurationSeconds)

	override := &Scene{Transition: &TransitionConfig{Type: TransitionNone}}
	cfg = ResolveTransition(override, spec)
	require.Equal(t, TransitionNone, cfg.Type)

	cfg = ResolveTransition(&Scene{}, &VideoSpec{})
	require.Equal(t, TransitionNone, cfg.Type)
	require.Equal(t, 1.0, cfg.DurationSeconds)
}

func TestSplitGlobalNarration(t *testing.T) {
	spec := VideoSpec{
		NarrationText: "First sentence. Second one! Third? Fourth.",
		Scenes: []Scene{
			{Type: SceneImage, ImageURL: "a", Narration: "https://example.com/old.mp3"},
			{Type: SceneImage, ImageURL: "b"},
		},
	}
	spec.SplitGlobalNarration()
	require.Equal(t, "", spec.Scenes[0].Narration) // global overrides per-scene
	require.Equal(t, "First sentence. Second one!", spec.Scenes[0].NarrationText)
	require.Equal(t, "Third? Fourth.", spec.Scenes[1].NarrationText)
}

func TestValidateVideoSpecJSON(t *testing.T) {
	good := []byte(`{"output_filename":"out.mp4","scenes":[{"type":"image","image_url":"https://example.com/x.png","duration":5}]}`)
	require.NoError(t, ValidateVideoSpecJSON(good))

	badType := []byte(`{"output_filename":"out.mp4","scenes":[{"type":"gif"}]}`)
	err := ValidateVideoSpecJSON(badType)
	require.Error(t, err)
	require.True(t, xerrors.IsInputInvalid(err))

	noScenes := []byte(`{"output_filename":"out.mp4","scenes":[]}`)
	require.Error(t, ValidateVideoSpecJSON(noScenes))
}

func TestValidateSemantic(t *testing.T) {
	spec := &VideoSpec{OutputFilename: "out.mp4", Scenes: []Scene{{Type: SceneImage}}}
	err := spec.Validate()
	require.Error(t, err)
	require.True(t, xerrors.IsInputInvalid(err))

	spec = &VideoSpec{OutputFilename: "out.mp4", Scenes: []Scene{
		{Type: SceneVideo, VideoURL: "u", PromptVideo: "p"},
	}}
	require.Error(t, spec.Validate())

	spec = &VideoSpec{OutputFilename: "out.mp4", Scenes: []Scene{
		{Type: SceneImage, PromptImage: "a cat"},
		{Type: SceneVideo, PromptVideo: "a dog", VideoProvider: VideoProviderLumaAI},
	}}
	require.NoError(t, spec.Validate())
}

func TestTaskStatus(t *testing.T) {
	require.True(t, TaskFinished.IsTerminal())
	require.True(t, TaskFailed.IsTerminal())
	require.False(t, TaskQueued.IsTerminal())
	require.False(t, TaskStatus("bogus").IsValid())
}
