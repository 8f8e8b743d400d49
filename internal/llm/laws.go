package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxLawsResponse caps how much of the laws endpoint body is read.
const maxLawsResponse = 4 << 20

var errNoLawsAnswer = errors.New("laws endpoint returned no usable answer")

// LawsClient calls the internal laws endpoint, which speaks the OpenAI
// chat-completion wire format.
type LawsClient struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

func NewLawsClient(url, apiKey, model string, timeout time.Duration) *LawsClient {
	if model == "" {
		model = "gpt-4o"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LawsClient{
		url:    url,
		apiKey: strings.TrimSpace(apiKey),
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type lawsRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	Temperature      float64       `json:"temperature"`
	MaxTokens        int           `json:"max_tokens"`
	TopP             float64       `json:"top_p"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	PresencePenalty  float64       `json:"presence_penalty"`
}

// lawsResponse accepts the OpenAI shape plus the flat "response"/"message"
// shapes some deployments of the endpoint return.
type lawsResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Response string          `json:"response"`
	Message  json.RawMessage `json:"message"`
}

func (r *lawsResponse) text() string {
	if len(r.Choices) > 0 {
		if c := strings.TrimSpace(r.Choices[0].Message.Content); c != "" {
			return c
		}
	}
	if s := strings.TrimSpace(r.Response); s != "" {
		return s
	}
	var msg string
	if len(r.Message) > 0 && json.Unmarshal(r.Message, &msg) == nil {
		return strings.TrimSpace(msg)
	}
	return ""
}

// Ask sends question to the laws endpoint. Any transport failure, non-2xx status
// or unrecognised body is returned as an error.
func (c *LawsClient) Ask(ctx context.Context, question string) (string, error) {
	body, err := json.Marshal(lawsRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: lawsPrompt},
			{Role: "user", Content: question},
		},
		Temperature: temperature,
		MaxTokens:   lawsMaxTokens,
		TopP:        1,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling laws endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxLawsResponse))
	if err != nil {
		return "", fmt.Errorf("reading laws response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("laws endpoint returned status %d", resp.StatusCode)
	}

	var parsed lawsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding laws response: %w", err)
	}
	answer := parsed.text()
	if answer == "" {
		return "", errNoLawsAnswer
	}
	return answer, nil
}
