// Package protocol defines the wire envelope and payloads for tool
// invocation between the orchestration core and external tools.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/QuantForge/internal/domain"
)

// MessageType identifies the kind of envelope.
type MessageType string

const (
	MessageToolCall   MessageType = "tool_call"
	MessageToolResult MessageType = "tool_result"
	MessageError      MessageType = "error"
)

// ResultStatus is the terminal status of a tool call. Every call gets
// exactly one of these; no call stays pending past its timeout.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
	StatusTimeout ResultStatus = "timeout"
)

// Envelope is the outer wire message. Payload holds a ToolCallPayload,
// ToolResultPayload, or ErrorDetail depending on MessageType.
type Envelope struct {
	MessageType   MessageType     `json:"message_type"`
	CorrelationID string          `json:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// ToolCallPayload is the payload of a tool_call envelope.
type ToolCallPayload struct {
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
	TimeoutMS int64           `json:"timeout_ms"`
}

// ErrorDetail is a structured failure description carried in tool_result
// and error envelopes.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried on the wire. They map 1:1 onto the domain error
// taxonomy.
const (
	CodeValidationError       = "VALIDATION_ERROR"
	CodeTransientError        = "TRANSIENT_ERROR"
	CodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
	CodeNonIdempotentFailure  = "NON_IDEMPOTENT_FAILURE"
	CodeTimeout               = "TIMEOUT"
	CodeToolError             = "TOOL_ERROR"
)

// ToolResultPayload is the payload of a tool_result envelope.
type ToolResultPayload struct {
	Status     ResultStatus    `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *ErrorDetail    `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// NewToolCall builds a tool_call envelope with the payload marshalled in.
func NewToolCall(correlationID, toolName string, args json.RawMessage, timeout time.Duration, now time.Time) (Envelope, error) {
	p, err := json.Marshal(ToolCallPayload{
		ToolName:  toolName,
		Arguments: args,
		TimeoutMS: timeout.Milliseconds(),
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal tool_call payload: %w", err)
	}
	return Envelope{
		MessageType:   MessageToolCall,
		CorrelationID: correlationID,
		Timestamp:     now,
		Payload:       p,
	}, nil
}

// Validate checks the structural invariants of an envelope.
func (e *Envelope) Validate() error {
	switch e.MessageType {
	case MessageToolCall, MessageToolResult, MessageError:
	default:
		return fmt.Errorf("%w: unknown message_type %q", domain.ErrValidation, e.MessageType)
	}
	if e.CorrelationID == "" {
		return fmt.Errorf("%w: correlation_id is required", domain.ErrValidation)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", domain.ErrValidation)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", domain.ErrValidation)
	}
	return nil
}

// CallPayload decodes and validates the tool_call payload.
func (e *Envelope) CallPayload() (ToolCallPayload, error) {
	var p ToolCallPayload
	if e.MessageType != MessageToolCall {
		return p, fmt.Errorf("%w: envelope is %s, not tool_call", domain.ErrValidation, e.MessageType)
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: decode tool_call payload: %v", domain.ErrValidation, err)
	}
	if p.ToolName == "" {
		return p, fmt.Errorf("%w: tool_name is required", domain.ErrValidation)
	}
	if p.TimeoutMS <= 0 {
		return p, fmt.Errorf("%w: timeout_ms must be positive", domain.ErrValidation)
	}
	return p, nil
}

// ResultPayload decodes and validates the tool_result payload.
func (e *Envelope) ResultPayload() (ToolResultPayload, error) {
	var p ToolResultPayload
	if e.MessageType != MessageToolResult {
		return p, fmt.Errorf("%w: envelope is %s, not tool_result", domain.ErrValidation, e.MessageType)
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: decode tool_result payload: %v", domain.ErrValidation, err)
	}
	switch p.Status {
	case StatusSuccess, StatusError, StatusTimeout:
	default:
		return p, fmt.Errorf("%w: unknown result status %q", domain.ErrValidation, p.Status)
	}
	return p, nil
}
