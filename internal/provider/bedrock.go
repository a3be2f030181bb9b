package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"llmlatencybench/internal/recorder"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/tidwall/gjson"
)

const llamaPromptTemplate = "<|begin_of_text|><|start_header_id|>system<|end_header_id|>\n\n%s<|eot_id|>" +
	"<|start_header_id|>user<|end_header_id|>\n\n%s<|eot_id|>" +
	"<|start_header_id|>assistant<|end_header_id|>\n\n"

// bedrockTransport invokes models hosted on AWS Bedrock
type bedrockTransport struct {
	client *bedrockruntime.Client
}

func newBedrockTransport(ctx context.Context, keyID, secretKey, region string) (*bedrockTransport, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID: keyID, SecretAccessKey: secretKey,
				Source: "llmlatencybench credentials",
			},
		}),
		config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("create aws config: %w", err)
	}
	return &bedrockTransport{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

// bedrockBody renders the request body. Meta models take max_gen_len, the
// rest max_tokens.
func bedrockBody(modelID string, req Request) ([]byte, error) {
	body := map[string]interface{}{
		"prompt": fmt.Sprintf(llamaPromptTemplate, req.SystemPrompt, req.Prompt),
	}
	if strings.HasPrefix(modelID, "meta.") {
		body["max_gen_len"] = req.MaxOutput
	} else {
		body["max_tokens"] = req.MaxOutput
	}
	return json.Marshal(body)
}

func (t *bedrockTransport) Complete(ctx context.Context, modelID string, req Request) (string, error) {
	bs, err := bedrockBody(modelID, req)
	if err != nil {
		return "", fmt.Errorf("marshal bedrock body: %w", err)
	}

	output, err := t.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Body:        bs,
	})
	if err != nil {
		return "", fmt.Errorf("invoke bedrock model: %w", err)
	}

	res := gjson.ParseBytes(output.Body)
	if g := res.Get("generation"); g.Exists() {
		return g.String(), nil
	}
	return res.Get("outputs.0.text").String(), nil
}

func (t *bedrockTransport) Stream(ctx context.Context, modelID string, req Request) (recorder.EventSource, error) {
	bs, err := bedrockBody(modelID, req)
	if err != nil {
		return nil, fmt.Errorf("marshal bedrock body: %w", err)
	}

	streamOutput, err := t.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Body:        bs,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke bedrock model with response stream: %w", err)
	}

	stream := streamOutput.GetStream()
	return &bedrockSource{events: stream.Events(), errFn: stream.Err, closeFn: stream.Close}, nil
}

// bedrockSource adapts the event stream channel to an EventSource
type bedrockSource struct {
	events  <-chan types.ResponseStream
	errFn   func() error
	closeFn func() error
	pending []recorder.StreamEvent
}

func (s *bedrockSource) Next(ctx context.Context) (recorder.StreamEvent, error) {
	if len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		return ev, nil
	}

	select {
	case <-ctx.Done():
		return recorder.StreamEvent{}, ctx.Err()
	case event, ok := <-s.events:
		if !ok {
			if err := s.errFn(); err != nil {
				return recorder.StreamEvent{}, fmt.Errorf("bedrock stream error: %w", err)
			}
			return recorder.StreamEvent{}, io.EOF
		}

		chunk, isChunk := event.(*types.ResponseStreamMemberChunk)
		if !isChunk {
			return recorder.Text(""), nil
		}

		events := decodeBedrockChunk(chunk.Value.Bytes)
		s.pending = append(s.pending, events[1:]...)
		return events[0], nil
	}
}

func (s *bedrockSource) Close() error {
	return s.closeFn()
}

// decodeBedrockChunk maps one chunk payload. Hitting the length limit is a
// normal finish, not an error.
func decodeBedrockChunk(raw []byte) []recorder.StreamEvent {
	if !gjson.ValidBytes(raw) {
		return []recorder.StreamEvent{recorder.Bad()}
	}

	res := gjson.ParseBytes(raw)

	text := res.Get("generation").String()
	if !res.Get("generation").Exists() {
		text = res.Get("outputs.0.text").String()
	}

	reason := ""
	if res.Get("stop_reason").String() == "length" || res.Get("outputs.0.stop_reason").String() == "length" {
		reason = "length"
	}

	events := textThenFinish(text, reason)
	if len(events) == 0 {
		return []recorder.StreamEvent{recorder.Text("")}
	}
	return events
}
