package video

import (
	"testing"

	"github.com/reelforge/reel-worker/schema"
	"github.com/stretchr/testify/require"
)

func TestLogoTargetSizeAutoScale(t *testing.T) {
	// no configured size: cap at 20% of the smaller video dimension
	w, h, err := LogoTargetSize(800, 400, 1080, 1920, 0)
	require.NoError(t, err)
	require.Equal(t, 216, w) // 20% of 1080
	require.Equal(t, 108, h)
}

func TestLogoTargetSizeSmallLogoUntouched(t *testing.T) {
	w, h, err := LogoTargetSize(100, 50, 1080, 1920, 0)
	require.NoError(t, err)
	require.Equal(t, 100, w)
	require.Equal(t, 50, h)
}

func TestLogoTargetSizeConfigured(t *testing.T) {
	w, h, err := LogoTargetSize(800, 800, 1080, 1920, 300)
	require.NoError(t, err)
	require.Equal(t, 300, w)
	require.Equal(t, 300, h)
}

func TestLogoTargetSizeInvalid(t *testing.T) {
	_, _, err := LogoTargetSize(0, 100, 1080, 1920, 0)
	require.Error(t, err)
}

func TestOverlayPositionExpr(t *testing.T) {
	x, y := OverlayPositionExpr(schema.PositionTopLeft, 20)
	require.Equal(t, "20", x)
	require.Equal(t, "20", y)

	x, y = OverlayPositionExpr(schema.PositionBottomRight, 20)
	require.Equal(t, "W-w-20", x)
	require.Equal(t, "H-h-20", y)

	x, y = OverlayPositionExpr(schema.PositionCenter, 20)
	require.Equal(t, "(W-w)/2", x)
	require.Equal(t, "(H-h)/2", y)
}

func TestDrawTextArgs(t *testing.T) {
	args := DrawTextArgs(schema.TextOverlay{
		Content:     "50% off today",
		Position:    schema.PositionTopLeft,
		FontSize:    40,
		Color:       "white",
		StrokeColor: "black",
		StrokeWidth: 2,
		Padding:     30,
	}, 1080, 1920)

	require.Contains(t, args, `text='50\% off today'`)
	require.Contains(t, args, "fontsize=40")
	require.Contains(t, args, "x=30")
	require.Contains(t, args, "borderw=2")
}

func TestDrawTextArgsPaddingClamped(t *testing.T) {
	args := DrawTextArgs(schema.TextOverlay{
		Content:  "hi",
		Position: schema.PositionBottomLeft,
		Padding:  5000,
	}, 1080, 1920)
	// padding can't exceed half the smaller dimension
	require.Contains(t, args, "x=540")
}

func TestDrawTextArgsPreset(t *testing.T) {
	args := DrawTextArgs(schema.TextOverlay{Content: "Big Sale", Preset: "title"}, 1080, 1920)
	require.Contains(t, args, "fontsize=72")
	require.Contains(t, args, "x=(w-text_w)/2")
}

func TestResolveTextOverlayKeepsExplicit(t *testing.T) {
	resolved := ResolveTextOverlay(schema.TextOverlay{Preset: "title", FontSize: 90})
	require.Equal(t, 90, resolved.FontSize)
	require.Equal(t, schema.PositionCenter, resolved.Position)
}
