package video

import (
	"fmt"
	"strings"

	"github.com/reelforge/reel-worker/schema"
)

// maximum share of the smaller video dimension a logo may take when no
// explicit size is configured
const logoMaxRatio = 0.20

// LogoTargetSize scales the logo to the configured size, or auto-scales it
// to at most 20% of the smaller video dimension. Aspect ratio is preserved.
func LogoTargetSize(logoW, logoH, videoW, videoH, configuredSize int) (int, int, error) {
	if logoW <= 0 || logoH <= 0 {
		return 0, 0, fmt.Errorf("invalid logo dimensions %dx%d", logoW, logoH)
	}

	maxDim := configuredSize
	if maxDim <= 0 {
		smaller := videoW
		if videoH < smaller {
			smaller = videoH
		}
		maxDim = int(float64(smaller) * logoMaxRatio)
	}

	longer := logoW
	if logoH > longer {
		longer = logoH
	}
	if longer <= maxDim {
		return logoW, logoH, nil
	}
	scale := float64(maxDim) / float64(longer)
	return roundEven(float64(logoW) * scale), roundEven(float64(logoH) * scale), nil
}

// OverlayPositionExpr maps a position enum to ffmpeg overlay x/y expressions.
// W/H are the base dimensions, w/h the overlaid image's.
func OverlayPositionExpr(pos schema.Position, margin int) (string, string) {
	m := fmt.Sprint(margin)
	switch pos {
	case schema.PositionTopLeft:
		return m, m
	case schema.PositionTopRight:
		return "W-w-" + m, m
	case schema.PositionBottomLeft:
		return m, "H-h-" + m
	case schema.PositionCenter:
		return "(W-w)/2", "(H-h)/2"
	default: // bottom-right
		return "W-w-" + m, "H-h-" + m
	}
}

var textPresets = map[string]schema.TextOverlay{
	"title":   {FontSize: 72, Color: "white", StrokeColor: "black", StrokeWidth: 3, Position: schema.PositionCenter},
	"caption": {FontSize: 42, Color: "white", StrokeColor: "black", StrokeWidth: 2, Position: schema.PositionBottomLeft},
	"badge":   {FontSize: 36, Color: "yellow", StrokeColor: "black", StrokeWidth: 2, Position: schema.PositionTopRight},
}

// ResolveTextOverlay fills a text overlay from its preset, keeping any
// explicitly set fields. Unknown presets fall back to the explicit config.
func ResolveTextOverlay(t schema.TextOverlay) schema.TextOverlay {
	preset, ok := textPresets[t.Preset]
	if !ok {
		return t
	}
	if t.FontSize == 0 {
		t.FontSize = preset.FontSize
	}
	if t.Color == "" {
		t.Color = preset.Color
	}
	if t.StrokeColor == "" {
		t.StrokeColor = preset.StrokeColor
	}
	if t.StrokeWidth == 0 {
		t.StrokeWidth = preset.StrokeWidth
	}
	if t.Position == "" {
		t.Position = preset.Position
	}
	return t
}

// DrawTextArgs builds the drawtext filter arguments for the overlay, clamped
// inside the video bounds by the configured padding.
func DrawTextArgs(t schema.TextOverlay, videoW, videoH int) string {
	t = ResolveTextOverlay(t)
	if t.FontSize == 0 {
		t.FontSize = 48
	}
	if t.Color == "" {
		t.Color = "white"
	}

	padding := t.Padding
	if padding < 0 {
		padding = 0
	}
	// padding can't push the text out of frame
	if padding > videoW/2 {
		padding = videoW / 2
	}
	if padding > videoH/2 {
		padding = videoH / 2
	}

	var x, y string
	p := fmt.Sprint(padding)
	switch t.Position {
	case schema.PositionTopLeft:
		x, y = p, p
	case schema.PositionTopRight:
		x, y = "w-text_w-"+p, p
	case schema.PositionBottomLeft:
		x, y = p, "h-text_h-"+p
	case schema.PositionBottomRight:
		x, y = "w-text_w-"+p, "h-text_h-"+p
	default:
		x, y = "(w-text_w)/2", "(h-text_h)/2"
	}

	parts := []string{
		"text='" + escapeDrawText(t.Content) + "'",
		fmt.Sprintf("fontsize=%d", t.FontSize),
		"fontcolor=" + t.Color,
		"x=" + x,
		"y=" + y,
	}
	if t.Font != "" {
		parts = append(parts, "font='"+escapeDrawText(t.Font)+"'")
	}
	if t.StrokeWidth > 0 {
		stroke := t.StrokeColor
		if stroke == "" {
			stroke = "black"
		}
		parts = append(parts, fmt.Sprintf("borderw=%d", t.StrokeWidth), "bordercolor="+stroke)
	}
	if t.Opacity > 0 && t.Opacity < 1 {
		parts = append(parts, fmt.Sprintf("alpha=%.2f", t.Opacity))
	}
	return strings.Join(parts, ":")
}

func escapeDrawText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`, `%`, `\%`)
	return r.Replace(s)
}
