// Package models defines the core data structures for ChatWarden.
//
// It includes the persisted moderation document, the typed gateway events that
// flow into the router, sentinel errors shared across packages and the JSON
// envelope used by the dashboard API.
package models

import "errors"

// Sentinel errors shared by handlers, the gateway adapter and the dashboard.
var (
	ErrNotInGroup      = errors.New("chat is not a group")
	ErrNoMedia         = errors.New("no media attached")
	ErrEmptyIdentity   = errors.New("empty participant identity")
	ErrInvalidEvent    = errors.New("invalid event")
	ErrNotConnected    = errors.New("whatsapp session not connected")
	ErrArchiveNotFound = errors.New("archived message not found")
	ErrUnknownGreeting = errors.New("unknown greeting kind")
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusTriggered indicates a background job (greeting run) was started.
	APIStatusTriggered APIStatus = "triggered"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Triggered reports that a background run was started and carries its report.
func Triggered(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusTriggered).
		WithMessage(message).
		WithResult(result).
		Build()
}
