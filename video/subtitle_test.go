package video

import (
	"strings"
	"testing"

	"github.com/reelforge/reel-worker/clients"
	"github.com/reelforge/reel-worker/schema"
	"github.com/stretchr/testify/require"
)

var testWords = []clients.Word{
	{Text: "fresh", Start: 0.0, End: 0.4},
	{Text: "coffee", Start: 0.4, End: 0.9},
	{Text: "every", Start: 0.9, End: 1.2},
	{Text: "morning", Start: 1.2, End: 1.8},
	{Text: "delivered", Start: 1.8, End: 2.5},
}

func TestGroupWords(t *testing.T) {
	lines := GroupWords(testWords, 1)
	require.Len(t, lines, 2)
	require.Len(t, lines[0].Words, 4)
	require.InDelta(t, 0.0, lines[0].Start, 0.001)
	require.InDelta(t, 1.8, lines[0].End, 0.001)
	require.Len(t, lines[1].Words, 1)
}

func TestAssAlignment(t *testing.T) {
	require.Equal(t, 8, assAlignment(schema.SubtitleTop))
	require.Equal(t, 5, assAlignment(schema.SubtitleMiddle))
	require.Equal(t, 2, assAlignment(schema.SubtitleBottom))
	require.Equal(t, 2, assAlignment(""))
}

func TestAssColor(t *testing.T) {
	// RGB flips to BGR
	require.Equal(t, "&H0000FF&", assColor("#FF0000"))
	require.Equal(t, "&HFFFFFF&", assColor("#FFFFFF"))
	require.Equal(t, "&HFFFFFF&", assColor("red"))
}

func TestAssTimestamp(t *testing.T) {
	require.Equal(t, "0:00:00.00", assTimestamp(0))
	require.Equal(t, "0:01:05.50", assTimestamp(65.5))
	require.Equal(t, "1:00:00.00", assTimestamp(3600))
}

func TestGenerateASSPlain(t *testing.T) {
	cfg := schema.SubtitleConfig{Position: schema.SubtitleBottom, Color: "#FFFFFF"}
	doc := GenerateASS(testWords, cfg, 1080, 1920)

	require.Contains(t, doc, "PlayResX: 1080")
	require.Contains(t, doc, "PlayResY: 1920")
	// one dialogue line per word group
	require.Equal(t, 2, strings.Count(doc, "Dialogue:"))
	require.Contains(t, doc, "fresh coffee every morning")
}

func TestGenerateASSHighlight(t *testing.T) {
	on := true
	cfg := schema.SubtitleConfig{
		Color:          "#FFFFFF",
		HighlightColor: "#FFFF00",
		Highlight:      &on,
		LineCount:      2,
	}
	doc := GenerateASS(testWords, cfg, 1080, 1920)

	// one event per word when highlighting
	require.Equal(t, 5, strings.Count(doc, "Dialogue:"))
	// yellow flips to &H00FFFF&
	require.Contains(t, doc, `{\c&H00FFFF&}coffee`)
}
