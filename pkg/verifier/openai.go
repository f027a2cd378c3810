package verifier

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

//go:embed prompts/liveness.txt
var livenessPrompt string

//go:embed prompts/compare.txt
var comparePrompt string

const defaultOpenAIModel = openai.ChatModelGPT4_1Mini

// OpenAIVerifier asks an OpenAI vision model for verdicts.
type OpenAIVerifier struct {
	client       *openai.Client
	model        string
	maxImageSize int
}

// NewOpenAIVerifier creates an OpenAI-backed verifier. An empty baseURL
// uses the public API.
func NewOpenAIVerifier(apiKey, model, baseURL string, maxImageSize int) *OpenAIVerifier {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	if maxImageSize <= 0 {
		maxImageSize = DefaultMaxImageSize
	}

	client := openai.NewClient(opts...)
	return &OpenAIVerifier{
		client:       &client,
		model:        model,
		maxImageSize: maxImageSize,
	}
}

func (v *OpenAIVerifier) Name() string {
	return ProviderOpenAI + ":" + v.model
}

// VerifyLiveness sends the capture with the session context.
func (v *OpenAIVerifier) VerifyLiveness(ctx context.Context, req LivenessRequest) (*LivenessResult, error) {
	img, err := ResizeImage(req.Image, v.maxImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}

	prompt := fmt.Sprintf(livenessPrompt, req.LivenessScore, req.GestureDetected)
	content, err := v.complete(ctx, prompt, img)
	if err != nil {
		return nil, err
	}
	return parseLiveness(content)
}

// CompareFaces sends the reference and the capture, in that order.
func (v *OpenAIVerifier) CompareFaces(ctx context.Context, req CompareRequest) (*CompareResult, error) {
	ref, err := ResizeImage(req.Reference, v.maxImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize reference image: %w", err)
	}
	cand, err := ResizeImage(req.Candidate, v.maxImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize candidate image: %w", err)
	}

	content, err := v.complete(ctx, comparePrompt, ref, cand)
	if err != nil {
		return nil, err
	}
	return parseCompare(content)
}

func (v *OpenAIVerifier) complete(ctx context.Context, systemPrompt string, images ...[]byte) (string, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart("Analyze the attached image(s) and answer in JSON."),
	}
	for _, img := range images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    dataURL(img),
			Detail: "high",
		}))
	}

	resp, err := v.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: v.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(systemPrompt),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: parts,
					},
				},
			},
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		MaxTokens: openai.Int(300),
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}
