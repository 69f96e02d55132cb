package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/alexberardi/jarvis-ocr-service/pkg/httpclient"
	"github.com/alexberardi/jarvis-ocr-service/pkg/resilience"
)

type llmRequest struct {
	ImageBase64 string  `json:"image_base64"`
	Language    *string `json:"language,omitempty"`
}

type llmResponse struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// llmOCRDriver backs both llm_local and llm_cloud: same RPC contract,
// different endpoint and breaker identity, selected at construction time.
type llmOCRDriver struct {
	tier    Tier
	client  *httpclient.Client
	path    string
	breaker *resilience.CircuitBreaker
}

// NewLLMLocalDriver points at a local inference server.
func NewLLMLocalDriver(client *httpclient.Client, breaker *resilience.CircuitBreaker) Driver {
	return &llmOCRDriver{tier: TierLLMLocal, client: client, path: "/ocr", breaker: breaker}
}

// NewLLMCloudDriver points at a cloud-hosted inference endpoint, wrapped in
// its own breaker instance so a cloud outage never trips the local tier.
func NewLLMCloudDriver(client *httpclient.Client, breaker *resilience.CircuitBreaker) Driver {
	return &llmOCRDriver{tier: TierLLMCloud, client: client, path: "/v1/ocr", breaker: breaker}
}

func (d *llmOCRDriver) Tier() Tier { return d.tier }

// Available is always true: the driver exists regardless of reachability;
// reachability failures surface as per-image errors, per spec.md §4.2.
func (d *llmOCRDriver) Available(ctx context.Context) bool { return true }

func (d *llmOCRDriver) Extract(ctx context.Context, imageBytes []byte, languageHint *string) (Result, error) {
	req := llmRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(imageBytes),
		Language:    languageHint,
	}

	raw, err := d.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return d.client.Post(ctx, d.path, req, nil)
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s request failed: %w", d.tier, err)
	}

	body, ok := raw.([]byte)
	if !ok {
		return Result{}, fmt.Errorf("%s: unexpected response type from breaker", d.tier)
	}

	var resp llmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Result{}, fmt.Errorf("%s response decode failed: %w", d.tier, err)
	}

	result := Result{CandidateText: Normalize(resp.Text)}
	if resp.Confidence != nil {
		normalized := NormalizeConfidence(*resp.Confidence)
		result.NativeConfidence = &normalized
	}
	return result, nil
}
