package verifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxResponseSize bounds a service response body.
const maxResponseSize = 1 << 20

// HTTPVerifier calls a JSON biometric service exposing /liveness-check and
// /compare-faces.
type HTTPVerifier struct {
	baseURL string
	token   string
	client  *http.Client
}

type livenessCheckRequest struct {
	Image           string  `json:"image"`
	LivenessScore   float64 `json:"liveness_score"`
	GestureDetected bool    `json:"gesture_detected"`
}

type faceComparisonRequest struct {
	Image1 string `json:"image1"`
	Image2 string `json:"image2"`
}

// NewHTTPVerifier creates a verifier for the service at baseURL. A non-empty
// token is sent as a bearer token. A nil client uses http.DefaultClient.
func NewHTTPVerifier(baseURL, token string, client *http.Client) *HTTPVerifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

func (v *HTTPVerifier) Name() string {
	return ProviderHTTP + ":" + v.baseURL
}

// VerifyLiveness posts the capture to /liveness-check.
func (v *HTTPVerifier) VerifyLiveness(ctx context.Context, req LivenessRequest) (*LivenessResult, error) {
	body := livenessCheckRequest{
		Image:           base64.StdEncoding.EncodeToString(req.Image),
		LivenessScore:   req.LivenessScore,
		GestureDetected: req.GestureDetected,
	}

	data, err := v.post(ctx, "/liveness-check", body)
	if err != nil {
		return nil, err
	}
	return parseLiveness(string(data))
}

// CompareFaces posts both images to /compare-faces.
func (v *HTTPVerifier) CompareFaces(ctx context.Context, req CompareRequest) (*CompareResult, error) {
	body := faceComparisonRequest{
		Image1: base64.StdEncoding.EncodeToString(req.Reference),
		Image2: base64.StdEncoding.EncodeToString(req.Candidate),
	}

	data, err := v.post(ctx, "/compare-faces", body)
	if err != nil {
		return nil, err
	}
	return parseCompare(string(data))
}

func (v *HTTPVerifier) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if v.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+v.token)
	}

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s failed with status code %d", path, resp.StatusCode)
	}
	return data, nil
}
