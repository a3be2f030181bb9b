package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"llmlatencybench/internal/recorder"

	"github.com/tidwall/gjson"
)

const cloudflareBaseURL = "https://api.cloudflare.com/client/v4"

// cloudflareTransport calls Workers AI through its REST run endpoint
type cloudflareTransport struct {
	baseURL   string
	accountID string
	token     string
	client    *http.Client
}

func (t *cloudflareTransport) url(modelID string) string {
	return fmt.Sprintf("%s/accounts/%s/ai/run/%s", strings.TrimSuffix(t.baseURL, "/"), t.accountID, modelID)
}

func (t *cloudflareTransport) body(req Request, stream bool) map[string]interface{} {
	return map[string]interface{}{
		"messages": []map[string]string{
			{"role": "system", "content": req.SystemPrompt},
			{"role": "user", "content": req.Prompt},
		},
		"max_tokens": req.MaxOutput,
		"stream":     stream,
	}
}

func (t *cloudflareTransport) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + t.token}
}

func (t *cloudflareTransport) Complete(ctx context.Context, modelID string, req Request) (string, error) {
	res, err := postForJSON(ctx, t.client, t.url(modelID), t.headers(), t.body(req, false))
	if err != nil {
		return "", err
	}
	return res.Get("result.response").String(), nil
}

func (t *cloudflareTransport) Stream(ctx context.Context, modelID string, req Request) (recorder.EventSource, error) {
	return postForStream(ctx, t.client, t.url(modelID), t.headers(), t.body(req, true), decodeCloudflareChunk)
}

func decodeCloudflareChunk(payload gjson.Result) []recorder.StreamEvent {
	return textThenFinish(payload.Get("response").String(), "")
}
