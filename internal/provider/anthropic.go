package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"llmlatencybench/internal/recorder"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// anthropicTransport uses the Messages API
type anthropicTransport struct {
	client anthropic.Client
}

func newAnthropicTransport(apiKey, baseURL string, httpClient *http.Client) *anthropicTransport {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// a retried trial would measure the retry, not the provider
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &anthropicTransport{client: anthropic.NewClient(opts...)}
}

func messageParams(modelID string, req Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: int64(req.MaxOutput),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}
	return params
}

func (t *anthropicTransport) Complete(ctx context.Context, modelID string, req Request) (string, error) {
	msg, err := t.client.Messages.New(ctx, messageParams(modelID, req))
	if err != nil {
		return "", fmt.Errorf("anthropic: completion failed: %w", err)
	}

	var content string
	for _, block := range msg.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += variant.Text
		}
	}
	return content, nil
}

func (t *anthropicTransport) Stream(ctx context.Context, modelID string, req Request) (recorder.EventSource, error) {
	stream := t.client.Messages.NewStreaming(ctx, messageParams(modelID, req))
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: stream request failed: %w", err)
	}
	return &anthropicStream{stream: stream}, nil
}

type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (s *anthropicStream) Next(ctx context.Context) (recorder.StreamEvent, error) {
	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			return recorder.StreamEvent{}, fmt.Errorf("anthropic: stream error: %w", err)
		}
		return recorder.StreamEvent{}, io.EOF
	}

	switch event := s.stream.Current().AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		if delta, ok := event.Delta.AsAny().(anthropic.TextDelta); ok {
			return recorder.Text(delta.Text), nil
		}
	case anthropic.MessageDeltaEvent:
		if event.Delta.StopReason != "" {
			return recorder.Finished(string(event.Delta.StopReason)), nil
		}
	case anthropic.MessageStopEvent:
		return recorder.Done(), nil
	}
	return recorder.Text(""), nil
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}
