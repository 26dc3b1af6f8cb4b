package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// genaiBaseURL returns endpoint when it can serve as the SDK base URL. A
// full REST method URL, as stored for the gemini provider, yields "" so the
// SDK default applies.
func genaiBaseURL(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if strings.Contains(endpoint, ":generateContent") || strings.Contains(endpoint, "/models/") {
		return ""
	}
	return endpoint
}

func (c *Client) callGenAI(ctx context.Context, apiKey, endpoint, model string, req Request) (Response, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  c.httpClient(),
		HTTPOptions: genai.HTTPOptions{BaseURL: genaiBaseURL(endpoint)},
	})
	if err != nil {
		return Response{}, fmt.Errorf("creating GenAI client: %w", err)
	}

	result, err := client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](Temperature),
		TopK:            genai.Ptr[float32](TopK),
		TopP:            genai.Ptr[float32](TopP),
		MaxOutputTokens: int32(req.MaxOutputTokens),
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code != 0 {
			return Response{}, &StatusError{Provider: "genai", StatusCode: apiErr.Code, Body: apiErr.Message}
		}
		return Response{}, fmt.Errorf("GenAI API error: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return Response{}, ErrInvalidResponse
	}

	out := Response{Candidates: len(result.Candidates)}
	if result.UsageMetadata != nil {
		out.Usage.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		out.Usage.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
	}
	if content := result.Candidates[0].Content; content != nil && len(content.Parts) > 0 && content.Parts[0] != nil {
		out.Text = content.Parts[0].Text
	}
	return out, nil
}
