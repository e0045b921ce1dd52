package clients

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "github.com/reelforge/reel-worker/errors"
	"github.com/stretchr/testify/require"
)

type stubImageGen struct {
	kind  ProviderKind
	err   error
	calls int
}

func (s *stubImageGen) Kind() ProviderKind { return s.kind }

func (s *stubImageGen) GenerateImage(ctx context.Context, taskID string, req ImageRequest) error {
	s.calls++
	return s.err
}

func TestImageChainPrimaryFirst(t *testing.T) {
	openai := &stubImageGen{kind: ProviderOpenAI}
	gemini := &stubImageGen{kind: ProviderGemini}
	ch := &ImageGenChain{Providers: map[ProviderKind]ImageGenerator{
		ProviderOpenAI: openai,
		ProviderGemini: gemini,
	}}

	got, err := ch.Generate(context.Background(), "t1", ProviderOpenAI, ImageRequest{Prompt: "a cat"})
	require.NoError(t, err)
	require.Equal(t, ProviderOpenAI, got)
	require.Equal(t, 1, openai.calls)
	require.Zero(t, gemini.calls)
}

func TestImageChainFallsBack(t *testing.T) {
	freepik := &stubImageGen{kind: ProviderFreepik, err: errors.New("freepik down")}
	gemini := &stubImageGen{kind: ProviderGemini, err: errors.New("gemini down")}
	openai := &stubImageGen{kind: ProviderOpenAI}
	ch := &ImageGenChain{Providers: map[ProviderKind]ImageGenerator{
		ProviderFreepik: freepik,
		ProviderGemini:  gemini,
		ProviderOpenAI:  openai,
	}}

	// requested freepik fails, then the fixed order gemini -> openai
	got, err := ch.Generate(context.Background(), "t1", ProviderFreepik, ImageRequest{Prompt: "a dog"})
	require.NoError(t, err)
	require.Equal(t, ProviderOpenAI, got)
	require.Equal(t, 1, freepik.calls)
	require.Equal(t, 1, gemini.calls)
	require.Equal(t, 1, openai.calls)
}

func TestImageChainQuotaStopsFallback(t *testing.T) {
	openai := &stubImageGen{kind: ProviderOpenAI, err: xerrors.NewQuotaExhaustedError("openai", 429, "insufficient quota")}
	gemini := &stubImageGen{kind: ProviderGemini}
	ch := &ImageGenChain{Providers: map[ProviderKind]ImageGenerator{
		ProviderOpenAI: openai,
		ProviderGemini: gemini,
	}}

	_, err := ch.Generate(context.Background(), "t1", ProviderOpenAI, ImageRequest{Prompt: "a cat"})
	require.Error(t, err)
	require.True(t, xerrors.IsQuotaExhausted(err))
	require.Zero(t, gemini.calls)
}

func TestImageChainPolicyStopsFallback(t *testing.T) {
	gemini := &stubImageGen{kind: ProviderGemini, err: xerrors.NewPolicyRefusalError("gemini", "blocked")}
	openai := &stubImageGen{kind: ProviderOpenAI}
	ch := &ImageGenChain{Providers: map[ProviderKind]ImageGenerator{
		ProviderGemini: gemini,
		ProviderOpenAI: openai,
	}}

	_, err := ch.Generate(context.Background(), "t1", ProviderGemini, ImageRequest{Prompt: "something"})
	require.True(t, xerrors.IsPolicyRefusal(err))
	require.Zero(t, openai.calls)
}

func TestImageChainAllFail(t *testing.T) {
	gemini := &stubImageGen{kind: ProviderGemini, err: errors.New("down")}
	openai := &stubImageGen{kind: ProviderOpenAI, err: errors.New("also down")}
	ch := &ImageGenChain{Providers: map[ProviderKind]ImageGenerator{
		ProviderGemini: gemini,
		ProviderOpenAI: openai,
	}}

	_, err := ch.Generate(context.Background(), "t1", ProviderGemini, ImageRequest{Prompt: "x"})
	require.Error(t, err)
	require.True(t, xerrors.IsAllProvidersFailed(err))
	var apf *xerrors.AllProvidersFailedError
	require.ErrorAs(t, err, &apf)
	require.Len(t, apf.Causes, 2)
}

func TestBuildImagePrompt(t *testing.T) {
	prompt := buildImagePrompt(ImageRequest{
		Prompt:       "a red fox",
		SceneContext: "opening shot",
		VideoContext: "wildlife documentary teaser",
	})
	require.Contains(t, prompt, "a red fox")
	require.Contains(t, prompt, "Scene context: opening shot")
	require.Contains(t, prompt, "Overall video: wildlife documentary teaser")

	bare := buildImagePrompt(ImageRequest{Prompt: "a red fox"})
	require.Equal(t, "a red fox", bare)
}

func TestFreepikPollBudget(t *testing.T) {
	c := NewFreepikImageClient("fp-key")
	require.Equal(t, time.Minute, time.Duration(c.MaxPolls)*c.PollInterval)
}
