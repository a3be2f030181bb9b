package server

import (
	"encoding/json"
	"fmt"
	"time"

	"llmlatencybench/internal/benchmark"
)

// Message types shared by the SSE stream and the websocket hub
const (
	MessageTypeProgress  = "progress"
	MessageTypeStatus    = "status"
	MessageTypeError     = "error"
	MessageTypeComplete  = "complete"
	MessageTypeCancelled = "cancelled"
	MessageTypePing      = "ping"
)

// Message is one run notification
type Message struct {
	Type      string      `json:"type"`
	RunID     string      `json:"runId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ProgressUpdate represents benchmark progress information
type ProgressUpdate struct {
	RunID                  string          `json:"runId"`
	Status                 string          `json:"status"`
	State                  benchmark.State `json:"state"`
	Provider               string          `json:"provider,omitempty"`
	Model                  string          `json:"model,omitempty"`
	Trial                  int             `json:"trial,omitempty"`
	Trials                 int             `json:"trials,omitempty"`
	Completed              int             `json:"completed"`
	Total                  int             `json:"total"`
	Units                  int             `json:"units,omitempty"`
	Progress               float64         `json:"progress"`               // 0-100
	ElapsedTime            float64         `json:"elapsedTime"`            // seconds
	EstimatedTimeRemaining float64         `json:"estimatedTimeRemaining"` // seconds
	CurrentStep            string          `json:"currentStep,omitempty"`
}

// StatusUpdate represents run status information
type StatusUpdate struct {
	RunID     string          `json:"runId"`
	Status    string          `json:"status"`
	State     benchmark.State `json:"state"`
	Message   string          `json:"message,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ErrorMessage represents error information
type ErrorMessage struct {
	RunID   string `json:"runId"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// CompletionMessage represents run completion information
type CompletionMessage struct {
	RunID     string            `json:"runId"`
	Status    string            `json:"status"`
	Report    *benchmark.Report `json:"report,omitempty"`
	Duration  float64           `json:"duration"` // seconds
	Completed time.Time         `json:"completed"`
}

// CancellationMessage represents run cancellation information
type CancellationMessage struct {
	RunID     string    `json:"runId"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Cancelled time.Time `json:"cancelled"`
	Reason    string    `json:"reason,omitempty"`
}

func newMessage(kind, runID string, data interface{}) *Message {
	return &Message{
		Type:      kind,
		RunID:     runID,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewProgressMessage creates a progress update message
func NewProgressMessage(progress ProgressUpdate) *Message {
	return newMessage(MessageTypeProgress, progress.RunID, progress)
}

// NewStatusMessage creates a status update message
func NewStatusMessage(status StatusUpdate) *Message {
	return newMessage(MessageTypeStatus, status.RunID, status)
}

// NewErrorMessage creates an error message
func NewErrorMessage(e ErrorMessage) *Message {
	return newMessage(MessageTypeError, e.RunID, e)
}

// NewCompletionMessage creates a completion message
func NewCompletionMessage(completion CompletionMessage) *Message {
	return newMessage(MessageTypeComplete, completion.RunID, completion)
}

// NewCancellationMessage creates a cancellation message
func NewCancellationMessage(cancellation CancellationMessage) *Message {
	return newMessage(MessageTypeCancelled, cancellation.RunID, cancellation)
}

// NewPingMessage creates a keep-alive message
func NewPingMessage() *Message {
	return newMessage(MessageTypePing, "", nil)
}

// Final reports whether no further messages follow for the run
func (m *Message) Final() bool {
	switch m.Type {
	case MessageTypeComplete, MessageTypeError, MessageTypeCancelled:
		return true
	}
	return false
}

// ToJSON converts a message to JSON bytes
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ToSSE renders the message as one server-sent event
func (m *Message) ToSSE() string {
	data, err := m.ToJSON()
	if err != nil {
		return fmt.Sprintf("data: {\"type\":%q,\"error\":%q}\n\n", MessageTypeError, err.Error())
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", m.Type, data)
}

// FromJSON creates a message from JSON bytes
func FromJSON(data []byte) (*Message, error) {
	var msg Message
	err := json.Unmarshal(data, &msg)
	return &msg, err
}
