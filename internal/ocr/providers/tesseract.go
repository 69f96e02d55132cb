package providers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// TesseractDriver shells out to the tesseract CLI binary — the idiomatic
// wrapping when no cgo Tesseract binding is vendored.
type TesseractDriver struct {
	binaryPath string
}

func NewTesseractDriver(binaryPath string) *TesseractDriver {
	if binaryPath == "" {
		binaryPath = "tesseract"
	}
	return &TesseractDriver{binaryPath: binaryPath}
}

func (d *TesseractDriver) Tier() Tier { return TierTesseract }

func (d *TesseractDriver) Available(ctx context.Context) bool {
	_, err := exec.LookPath(d.binaryPath)
	return err == nil
}

func (d *TesseractDriver) Extract(ctx context.Context, imageBytes []byte, languageHint *string) (Result, error) {
	tmpFile, err := os.CreateTemp("", "ocr-tesseract-*.img")
	if err != nil {
		return Result{}, fmt.Errorf("create temp file for tesseract: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	if _, err := tmpFile.Write(imageBytes); err != nil {
		return Result{}, fmt.Errorf("write temp file for tesseract: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return Result{}, fmt.Errorf("close temp file for tesseract: %w", err)
	}

	args := []string{tmpFile.Name(), "stdout"}
	if languageHint != nil && *languageHint != "" {
		args = append(args, "-l", *languageHint)
	}

	cmd := exec.CommandContext(ctx, d.binaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("tesseract exec failed: %w: %s", err, stderr.String())
	}

	return Result{CandidateText: Normalize(stdout.String())}, nil
}
