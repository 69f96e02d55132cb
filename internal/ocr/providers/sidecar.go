package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/alexberardi/jarvis-ocr-service/pkg/httpclient"
)

// sidecarRequest is the JSON body POSTed to a local OCR sidecar.
type sidecarRequest struct {
	ImageBase64 string  `json:"image_base64"`
	Language    *string `json:"language,omitempty"`
}

// sidecarResponse is the JSON body a sidecar replies with.
type sidecarResponse struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// SidecarDriver talks to a local Python-backed OCR engine (easyocr,
// paddleocr) over a small JSON-over-HTTP contract.
type SidecarDriver struct {
	tier   Tier
	client *httpclient.Client
	path   string
}

func NewSidecarDriver(tier Tier, client *httpclient.Client, path string) *SidecarDriver {
	if path == "" {
		path = "/extract"
	}
	return &SidecarDriver{tier: tier, client: client, path: path}
}

func (d *SidecarDriver) Tier() Tier { return d.tier }

// Available probes the sidecar's health endpoint once at boot; callers
// typically cache this result rather than probing per-request.
func (d *SidecarDriver) Available(ctx context.Context) bool {
	_, err := d.client.Get(ctx, "/healthz", nil)
	return err == nil
}

func (d *SidecarDriver) Extract(ctx context.Context, imageBytes []byte, languageHint *string) (Result, error) {
	req := sidecarRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(imageBytes),
		Language:    languageHint,
	}

	raw, err := d.client.Post(ctx, d.path, req, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%s sidecar request failed: %w", d.tier, err)
	}

	var resp sidecarResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Result{}, fmt.Errorf("%s sidecar response decode failed: %w", d.tier, err)
	}

	result := Result{CandidateText: Normalize(resp.Text)}
	if resp.Confidence != nil {
		normalized := NormalizeConfidence(*resp.Confidence)
		result.NativeConfidence = &normalized
	}
	return result, nil
}
