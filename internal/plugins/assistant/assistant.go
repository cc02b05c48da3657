package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"parley/internal/config"
	"parley/internal/core/domain"
)

const systemPrompt = "You are a concise assistant. Answer the client's message directly."

type AssistantClient struct {
	URL    string
	APIKey string
	Model  string
	client *http.Client
}

func NewAssistantClient(
	cfg config.AssistantConfig,
) *AssistantClient {
	return &AssistantClient{
		URL:    cfg.URL,
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	User     string        `json:"user,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Process forwards the client's message to the completion API and wraps the
// first choice as a reply.
func (a *AssistantClient) Process(ctx context.Context, clientID, content string) (domain.Reply, error) {
	body := chatRequest{
		Model: a.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: content},
		},
		User: clientID,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.Reply{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.URL, bytes.NewReader(payload))
	if err != nil {
		return domain.Reply{}, err
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Authorization", "Bearer "+a.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.Reply{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.Reply{}, fmt.Errorf("assistant error: status %d", resp.StatusCode)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.Reply{}, err
	}
	if len(result.Choices) == 0 {
		return domain.Reply{}, fmt.Errorf("assistant error: no choices")
	}

	return domain.Reply{
		MessageID: uuid.NewString(),
		Content:   result.Choices[0].Message.Content,
		Timestamp: time.Now().UTC(),
	}, nil
}
