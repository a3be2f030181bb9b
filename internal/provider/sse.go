package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"llmlatencybench/internal/recorder"

	"github.com/tidwall/gjson"
)

var (
	headerData  = []byte("data:")
	headerEvent = []byte("event:")
	doneMarker  = []byte("[DONE]")
)

// decodeFunc maps one decoded SSE data payload to canonical events
type decodeFunc func(payload gjson.Result) []recorder.StreamEvent

// sseSource reads a text/event-stream body line by line
type sseSource struct {
	body    io.ReadCloser
	buffer  *bufio.Reader
	decode  decodeFunc
	pending []recorder.StreamEvent
}

func newSSESource(body io.ReadCloser, decode decodeFunc) *sseSource {
	return &sseSource{body: body, buffer: bufio.NewReader(body), decode: decode}
}

func (s *sseSource) Next(ctx context.Context) (recorder.StreamEvent, error) {
	if len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		return ev, nil
	}

	for {
		raw, err := s.buffer.ReadBytes('\n')
		if ev, ok := s.parseLine(bytes.TrimSpace(raw)); ok {
			return ev, nil
		}
		if err != nil {
			if err == io.EOF {
				return recorder.StreamEvent{}, io.EOF
			}
			return recorder.StreamEvent{}, fmt.Errorf("read stream: %w", err)
		}
	}
}

// parseLine returns false for lines that carry no event
func (s *sseSource) parseLine(line []byte) (recorder.StreamEvent, bool) {
	if len(line) == 0 || line[0] == ':' || bytes.HasPrefix(line, headerEvent) {
		return recorder.StreamEvent{}, false
	}
	if !bytes.HasPrefix(line, headerData) {
		return recorder.StreamEvent{}, false
	}

	payload := bytes.TrimSpace(bytes.TrimPrefix(line, headerData))
	if bytes.Equal(payload, doneMarker) {
		return recorder.Done(), true
	}
	if !gjson.ValidBytes(payload) {
		return recorder.Bad(), true
	}

	events := s.decode(gjson.ParseBytes(payload))
	if len(events) == 0 {
		return recorder.Text(""), true
	}
	s.pending = append(s.pending, events[1:]...)
	return events[0], true
}

func (s *sseSource) Close() error {
	return s.body.Close()
}

// postJSON sends body and returns the response when the status is 200
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body interface{}) (*http.Response, error) {
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		defer res.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, fmt.Errorf("unexpected status code %d: %s", res.StatusCode, bytes.TrimSpace(snippet))
	}

	return res, nil
}

// postForJSON sends body and decodes the whole response with gjson
func postForJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body interface{}) (gjson.Result, error) {
	res, err := postJSON(ctx, client, url, headers, body)
	if err != nil {
		return gjson.Result{}, err
	}
	defer res.Body.Close()

	bs, err := io.ReadAll(res.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response body: %w", err)
	}
	if !gjson.ValidBytes(bs) {
		return gjson.Result{}, fmt.Errorf("response body is not valid json")
	}
	return gjson.ParseBytes(bs), nil
}

// postForStream sends body and wraps the response as an SSE event source
func postForStream(ctx context.Context, client *http.Client, url string, headers map[string]string, body interface{}, decode decodeFunc) (recorder.EventSource, error) {
	res, err := postJSON(ctx, client, url, headers, body)
	if err != nil {
		return nil, err
	}
	return newSSESource(res.Body, decode), nil
}

func textThenFinish(text, reason string) []recorder.StreamEvent {
	var events []recorder.StreamEvent
	if text != "" {
		events = append(events, recorder.Text(text))
	}
	if reason != "" {
		events = append(events, recorder.Finished(reason))
	}
	return events
}
