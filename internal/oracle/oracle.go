package oracle

import (
	"context"
	"errors"
	"time"
)

// Failure classes of a single oracle call. Callers match them with errors.Is.
var (
	// ErrUnavailable means the completion service could not be reached
	ErrUnavailable = errors.New("oracle unreachable")
	// ErrRejected means the service answered with a non-success status
	ErrRejected = errors.New("oracle rejected request")
	// ErrMalformedReply means the reply did not have the expected shape
	ErrMalformedReply = errors.New("oracle returned malformed response")
)

// Conversation roles
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one turn of a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Oracle is a text completion service: it answers a conversation with text.
type Oracle interface {
	// Chat sends messages and returns the content of the first reply.
	Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error)
	// Close releases resources held by the oracle
	Close() error
}

// Config holds the endpoint settings of an OpenAI-compatible completion service.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Defaults for a locally hosted LM Studio server
const (
	DefaultBaseURL = "http://127.0.0.1:1234/v1"
	DefaultAPIKey  = "lmstudio-key"
	DefaultModel   = "llama-3.2-3b-instruct"
	DefaultTimeout = 60 * time.Second
)

// maxErrorBody bounds how much of a rejected response body is kept in the error.
const maxErrorBody = 500

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
