package recommend

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini API recommender.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiRecommender asks a Gemini model for recommendations.
type GeminiRecommender struct {
	client *genai.Client
	model  string
}

// NewGeminiRecommender creates a recommender for cfg.
func NewGeminiRecommender(ctx context.Context, cfg GeminiConfig) (*GeminiRecommender, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gemini client")
	}
	return &GeminiRecommender{client: client, model: cfg.Model}, nil
}

func (r *GeminiRecommender) Name() string {
	return "gemini"
}

func (r *GeminiRecommender) Recommend(ctx context.Context, req RemoteRequest) ([]RemoteItem, error) {
	resp, err := r.client.Models.GenerateContent(ctx, r.model,
		genai.Text(systemPrompt+"\n\n"+buildPrompt(req)),
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return nil, errors.Wrap(err, "generate content failed")
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("no content generated")
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, errors.New("content blocked by safety filters")
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}
	return parseRemoteResponse(text.String())
}
