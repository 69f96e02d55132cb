package providers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// AppleVisionDriver shells out to a small native helper binary wrapping
// the macOS Vision framework's text-recognition request. It is portable at
// the binary level; the platform gate lives in Available so the tier is
// simply absent from the active list on non-darwin hosts.
type AppleVisionDriver struct {
	binaryPath string
}

func NewAppleVisionDriver(binaryPath string) *AppleVisionDriver {
	if binaryPath == "" {
		binaryPath = "jarvis-vision-helper"
	}
	return &AppleVisionDriver{binaryPath: binaryPath}
}

func (d *AppleVisionDriver) Tier() Tier { return TierAppleVision }

func (d *AppleVisionDriver) Available(ctx context.Context) bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	_, err := exec.LookPath(d.binaryPath)
	return err == nil
}

func (d *AppleVisionDriver) Extract(ctx context.Context, imageBytes []byte, languageHint *string) (Result, error) {
	if runtime.GOOS != "darwin" {
		return Result{}, fmt.Errorf("apple_vision tier invoked on non-darwin host")
	}

	cmd := exec.CommandContext(ctx, d.binaryPath)
	cmd.Stdin = bytes.NewReader(imageBytes)

	out, err := cmd.Output()
	if err != nil {
		return Result{}, fmt.Errorf("apple_vision helper failed: %w", err)
	}

	return Result{CandidateText: Normalize(string(out))}, nil
}
