package provider

import (
	"context"
	"net/http"
	"strings"

	"llmlatencybench/internal/recorder"

	"github.com/tidwall/gjson"
)

// vllmTransport targets a self-hosted vLLM server through /v1/completions
type vllmTransport struct {
	baseURL string
	client  *http.Client
}

func (t *vllmTransport) url() string {
	return strings.TrimSuffix(t.baseURL, "/") + "/v1/completions"
}

func (t *vllmTransport) body(modelID string, req Request, stream bool) map[string]interface{} {
	return map[string]interface{}{
		"model":      modelID,
		"prompt":     req.SystemPrompt + "\n\n" + req.Prompt,
		"max_tokens": req.MaxOutput,
		"stream":     stream,
	}
}

func (t *vllmTransport) Complete(ctx context.Context, modelID string, req Request) (string, error) {
	res, err := postForJSON(ctx, t.client, t.url(), nil, t.body(modelID, req, false))
	if err != nil {
		return "", err
	}
	return res.Get("choices.0.text").String(), nil
}

func (t *vllmTransport) Stream(ctx context.Context, modelID string, req Request) (recorder.EventSource, error) {
	return postForStream(ctx, t.client, t.url(), nil, t.body(modelID, req, true), decodeVLLMChunk)
}

func decodeVLLMChunk(payload gjson.Result) []recorder.StreamEvent {
	return textThenFinish(payload.Get("choices.0.text").String(), payload.Get("choices.0.finish_reason").String())
}
