package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content *geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// RequestURL appends the API key as a query parameter, using "&" when the
// endpoint already carries a query string.
func RequestURL(endpoint, apiKey string) string {
	endpoint = strings.TrimSpace(endpoint)
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "key=" + url.QueryEscape(strings.TrimSpace(apiKey))
}

func newGeminiRequest(req Request) geminiRequest {
	return geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     Temperature,
			TopK:            TopK,
			TopP:            TopP,
			MaxOutputTokens: req.MaxOutputTokens,
		},
	}
}

func (c *Client) callGemini(ctx context.Context, apiKey, endpoint string, req Request) (Response, error) {
	bodyBytes, err := json.Marshal(newGeminiRequest(req))
	if err != nil {
		return Response{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, RequestURL(endpoint, apiKey), bytes.NewReader(bodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("Gemini API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return Response{}, &StatusError{Provider: "gemini", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, fmt.Errorf("parsing Gemini response: %w: %v", ErrInvalidResponse, err)
	}
	if len(parsed.Candidates) == 0 {
		return Response{}, ErrInvalidResponse
	}

	out := Response{Candidates: len(parsed.Candidates)}
	if parsed.UsageMetadata != nil {
		out.Usage.InputTokens = parsed.UsageMetadata.PromptTokenCount
		out.Usage.OutputTokens = parsed.UsageMetadata.CandidatesTokenCount
	}
	if content := parsed.Candidates[0].Content; content != nil && len(content.Parts) > 0 {
		out.Text = content.Parts[0].Text
	}
	return out, nil
}
