// Package providers defines the uniform OCR driver contract and the
// concrete engines behind each tier.
package providers

import (
	"context"
	"strings"
)

// Tier is the closed set of OCR engine identifiers a job may be routed
// through.
type Tier string

const (
	TierTesseract   Tier = "tesseract"
	TierEasyOCR     Tier = "easyocr"
	TierPaddleOCR   Tier = "paddleocr"
	TierAppleVision Tier = "apple_vision"
	TierLLMLocal    Tier = "llm_local"
	TierLLMCloud    Tier = "llm_cloud"
)

// AllTiers lists every tier this service knows how to drive, in no
// particular priority order — the active order comes from configuration.
var AllTiers = []Tier{TierTesseract, TierEasyOCR, TierPaddleOCR, TierAppleVision, TierLLMLocal, TierLLMCloud}

// Result is what a Driver produces for one image on one tier attempt.
type Result struct {
	CandidateText    string
	NativeConfidence *float64 // nil when the engine reports no native confidence
}

// Driver is the uniform capability every OCR engine adapter implements:
// given image bytes and an optional language hint, produce candidate text.
type Driver interface {
	Tier() Tier
	// Available reports whether this driver can run on the current host,
	// checked once at boot and cached by the registry.
	Available(ctx context.Context) bool
	Extract(ctx context.Context, imageBytes []byte, languageHint *string) (Result, error)
}

// Normalize applies the shared candidate-text cleanup every driver must run
// before returning: strip NULs, normalize newlines to \n, and collapse runs
// of whitespace longer than two spaces.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	spaceRun := 0
	for _, r := range text {
		if r == ' ' {
			spaceRun++
			if spaceRun <= 2 {
				b.WriteRune(r)
			}
			continue
		}
		spaceRun = 0
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeConfidence clamps a native confidence value into [0,1].
func NormalizeConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
