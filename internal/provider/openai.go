package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"llmlatencybench/internal/recorder"

	"github.com/sashabaranov/go-openai"
)

const (
	togetherAIBaseURL = "https://api.together.xyz/v1"
	groqBaseURL       = "https://api.groq.com/openai/v1"
	perplexityBaseURL = "https://api.perplexity.ai"
	hyperbolicBaseURL = "https://api.hyperbolic.xyz/v1"
)

// openAITransport speaks the OpenAI chat completions protocol, which most
// hosted providers mirror
type openAITransport struct {
	client *openai.Client
}

func newOpenAITransport(apiKey, baseURL string, httpClient *http.Client) *openAITransport {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = normalizeBaseURL(baseURL)
	}
	if httpClient != nil {
		config.HTTPClient = httpClient
	}
	return &openAITransport{client: openai.NewClientWithConfig(config)}
}

func newAzureTransport(apiKey, endpoint string, httpClient *http.Client) *openAITransport {
	config := openai.DefaultAzureConfig(apiKey, endpoint)
	if httpClient != nil {
		config.HTTPClient = httpClient
	}
	return &openAITransport{client: openai.NewClientWithConfig(config)}
}

// normalizeBaseURL makes sure Cloud Foundry GenAI proxy URLs carry the /v1 path
func normalizeBaseURL(baseURL string) string {
	if !strings.Contains(baseURL, "genai-proxy") || strings.Contains(baseURL, "/v1") {
		return baseURL
	}
	if strings.HasSuffix(baseURL, "/openai") {
		return baseURL + "/v1"
	}
	if strings.Contains(baseURL, "tanzu-") {
		return baseURL + "/openai/v1"
	}
	return baseURL
}

func chatRequest(modelID string, req Request, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: modelID,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: req.SystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: req.Prompt,
			},
		},
		MaxTokens: req.MaxOutput,
		Stream:    stream,
	}
}

func (t *openAITransport) Complete(ctx context.Context, modelID string, req Request) (string, error) {
	resp, err := t.client.CreateChatCompletion(ctx, chatRequest(modelID, req, false))
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (t *openAITransport) Stream(ctx context.Context, modelID string, req Request) (recorder.EventSource, error) {
	stream, err := t.client.CreateChatCompletionStream(ctx, chatRequest(modelID, req, true))
	if err != nil {
		return nil, fmt.Errorf("chat completion stream request failed: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream  *openai.ChatCompletionStream
	pending []recorder.StreamEvent
}

func (s *openAIStream) Next(ctx context.Context) (recorder.StreamEvent, error) {
	if len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		return ev, nil
	}

	resp, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		return recorder.StreamEvent{}, io.EOF
	}
	if err != nil {
		return recorder.StreamEvent{}, fmt.Errorf("stream error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return recorder.Text(""), nil
	}

	choice := resp.Choices[0]
	reason := string(choice.FinishReason)
	if reason == "" {
		return recorder.Text(choice.Delta.Content), nil
	}
	if choice.Delta.Content != "" {
		s.pending = append(s.pending, recorder.Finished(reason))
		return recorder.Text(choice.Delta.Content), nil
	}
	return recorder.Finished(reason), nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
