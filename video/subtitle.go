package video

import (
	"fmt"
	"strings"

	"github.com/reelforge/reel-worker/clients"
	"github.com/reelforge/reel-worker/schema"
)

const maxWordsPerLine = 4

// SubtitleLine is a group of words shown together.
type SubtitleLine struct {
	Words []clients.Word
	Start float64
	End   float64
}

// GroupWords splits the transcript into display lines of a few words each,
// scaled by the configured line count.
func GroupWords(words []clients.Word, lineCount int) []SubtitleLine {
	if lineCount <= 0 {
		lineCount = 1
	}
	perLine := maxWordsPerLine * lineCount

	var lines []SubtitleLine
	for start := 0; start < len(words); start += perLine {
		end := start + perLine
		if end > len(words) {
			end = len(words)
		}
		chunk := words[start:end]
		lines = append(lines, SubtitleLine{
			Words: chunk,
			Start: chunk[0].Start,
			End:   chunk[len(chunk)-1].End,
		})
	}
	return lines
}

// assAlignment maps the position enum to libass numpad alignment.
func assAlignment(pos schema.SubtitlePosition) int {
	switch pos {
	case schema.SubtitleTop:
		return 8
	case schema.SubtitleMiddle:
		return 5
	default:
		return 2
	}
}

// assColor converts "#RRGGBB" to the &HBBGGRR& form ASS wants. Non-hex
// inputs pass through as white.
func assColor(hex string) string {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return "&HFFFFFF&"
	}
	return fmt.Sprintf("&H%s%s%s&", strings.ToUpper(hex[4:6]), strings.ToUpper(hex[2:4]), strings.ToUpper(hex[0:2]))
}

func assTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds * 100)
	cs := total % 100
	s := (total / 100) % 60
	m := (total / 6000) % 60
	h := total / 360000
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}

// GenerateASS renders the subtitle track as an ASS document. When per-word
// highlighting is on, each word gets its own dialogue span with the
// highlight color while the line stays on screen.
func GenerateASS(words []clients.Word, cfg schema.SubtitleConfig, videoW, videoH int) string {
	var b strings.Builder

	font := cfg.Font
	if font == "" {
		font = "Arial"
	}
	fontSize := cfg.FontSize
	if fontSize == 0 {
		fontSize = 64
	}
	strokeWidth := cfg.StrokeWidth
	if strokeWidth == 0 {
		strokeWidth = 2
	}

	fmt.Fprintf(&b, "[Script Info]\nScriptType: v4.00+\nPlayResX: %d\nPlayResY: %d\nWrapStyle: 0\n\n", videoW, videoH)
	b.WriteString("[V4+ Styles]\n")
	b.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, OutlineColour, BackColour, Bold, Outline, Shadow, Alignment, MarginL, MarginR, MarginV\n")
	fmt.Fprintf(&b, "Style: Default,%s,%d,%s,%s,&H000000&,1,%d,0,%d,40,40,80\n\n",
		font, fontSize, assColor(cfg.Color), assColor(cfg.StrokeColor), strokeWidth, assAlignment(cfg.Position))

	b.WriteString("[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	highlight := cfg.Highlight != nil && *cfg.Highlight
	lines := GroupWords(words, cfg.LineCount)
	for _, line := range lines {
		if !highlight {
			texts := make([]string, len(line.Words))
			for i, w := range line.Words {
				texts[i] = w.Text
			}
			fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
				assTimestamp(line.Start), assTimestamp(line.End), strings.Join(texts, " "))
			continue
		}
		// one event per word, with that word in the highlight color
		for i := range line.Words {
			var text strings.Builder
			for j, w := range line.Words {
				if j > 0 {
					text.WriteString(" ")
				}
				if j == i {
					fmt.Fprintf(&text, "{\\c%s}%s{\\c%s}", assColor(cfg.HighlightColor), w.Text, assColor(cfg.Color))
				} else {
					text.WriteString(w.Text)
				}
			}
			end := line.End
			if i < len(line.Words)-1 {
				end = line.Words[i+1].Start
			}
			fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
				assTimestamp(line.Words[i].Start), assTimestamp(end), text.String())
		}
	}
	return b.String()
}
