package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"llmlatencybench/internal/recorder"
	"llmlatencybench/internal/utils"

	"github.com/tidwall/gjson"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// geminiTransport calls the Generative Language REST API
type geminiTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func (t *geminiTransport) url(modelID, method string, query url.Values) string {
	query.Set("key", t.apiKey)
	return fmt.Sprintf("%s/models/%s:%s?%s", strings.TrimSuffix(t.baseURL, "/"), modelID, method, query.Encode())
}

func (t *geminiTransport) body(req Request) map[string]interface{} {
	return map[string]interface{}{
		"systemInstruction": map[string]interface{}{
			"parts": []map[string]string{{"text": req.SystemPrompt}},
		},
		"contents": []map[string]interface{}{
			{
				"role":  "user",
				"parts": []map[string]string{{"text": req.Prompt}},
			},
		},
		"generationConfig": map[string]interface{}{
			"maxOutputTokens": req.MaxOutput,
		},
	}
}

func (t *geminiTransport) Complete(ctx context.Context, modelID string, req Request) (string, error) {
	res, err := postForJSON(ctx, t.client, t.url(modelID, "generateContent", url.Values{}), nil, t.body(req))
	if err != nil {
		return "", err
	}
	return res.Get("candidates.0.content.parts.0.text").String(), nil
}

func (t *geminiTransport) Stream(ctx context.Context, modelID string, req Request) (recorder.EventSource, error) {
	query := url.Values{}
	query.Set("alt", "sse")
	return postForStream(ctx, t.client, t.url(modelID, "streamGenerateContent", query), nil, t.body(req), newGeminiDecoder(utils.CountTokens))
}

// newGeminiDecoder returns a decoder that turns cumulative candidate token
// counts into per-chunk deltas. Chunks without usage metadata are counted
// from their text with count, and those units are subtracted from the next
// cumulative total.
func newGeminiDecoder(count func(string) int) decodeFunc {
	counter := &recorder.CumulativeCounter{}
	return func(payload gjson.Result) []recorder.StreamEvent {
		text := payload.Get("candidates.0.content.parts.0.text").String()

		var units int
		if total := payload.Get("usageMetadata.candidatesTokenCount"); total.Exists() {
			units = counter.Delta(int(total.Int()))
		} else {
			units = count(text)
			counter.Add(units)
		}

		var events []recorder.StreamEvent
		if units > 0 {
			events = append(events, recorder.Delta(units, text))
		}
		if reason := payload.Get("candidates.0.finishReason").String(); reason != "" && reason != "FINISH_REASON_UNSPECIFIED" {
			events = append(events, recorder.Finished(reason))
		}
		return events
	}
}
