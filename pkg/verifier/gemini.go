package verifier

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiVerifier asks a Gemini model for verdicts.
type GeminiVerifier struct {
	client       *genai.Client
	model        string
	maxImageSize int
}

// NewGeminiVerifier creates a Gemini-backed verifier. An empty baseURL uses
// the public API.
func NewGeminiVerifier(ctx context.Context, apiKey, model, baseURL string, maxImageSize int) (*GeminiVerifier, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if model == "" {
		model = defaultGeminiModel
	}
	if maxImageSize <= 0 {
		maxImageSize = DefaultMaxImageSize
	}
	return &GeminiVerifier{client: client, model: model, maxImageSize: maxImageSize}, nil
}

func (v *GeminiVerifier) Name() string {
	return ProviderGemini + ":" + v.model
}

// VerifyLiveness sends the capture with the session context.
func (v *GeminiVerifier) VerifyLiveness(ctx context.Context, req LivenessRequest) (*LivenessResult, error) {
	img, err := ResizeImage(req.Image, v.maxImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}

	prompt := fmt.Sprintf(livenessPrompt, req.LivenessScore, req.GestureDetected)
	content, err := v.generate(ctx, prompt, img)
	if err != nil {
		return nil, err
	}
	return parseLiveness(content)
}

// CompareFaces sends the reference and the capture, in that order.
func (v *GeminiVerifier) CompareFaces(ctx context.Context, req CompareRequest) (*CompareResult, error) {
	ref, err := ResizeImage(req.Reference, v.maxImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize reference image: %w", err)
	}
	cand, err := ResizeImage(req.Candidate, v.maxImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize candidate image: %w", err)
	}

	content, err := v.generate(ctx, comparePrompt, ref, cand)
	if err != nil {
		return nil, err
	}
	return parseCompare(content)
}

func (v *GeminiVerifier) generate(ctx context.Context, prompt string, images ...[]byte) (string, error) {
	parts := []*genai.Part{{Text: prompt}}
	for _, img := range images {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: img, MIMEType: "image/jpeg"}})
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	result, err := v.client.Models.GenerateContent(ctx, v.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini API error: %w", err)
	}

	content := result.Text()
	if content == "" {
		return "", errors.New("no response from Gemini")
	}
	return content, nil
}
