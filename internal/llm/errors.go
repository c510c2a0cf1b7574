package llm

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// Machine-readable failure codes surfaced to clients.
const (
	CodeRuntimeUnavailable = "RUNTIME_UNAVAILABLE"
	CodeRuntimeHTTPError   = "RUNTIME_HTTP_ERROR"
	CodeIdleTimeout        = "IDLE_TIMEOUT"
	CodeTotalTimeout       = "TOTAL_TIMEOUT"
	CodePromptRejected     = "PROMPT_REJECTED"
	CodeStreamReadError    = "STREAM_READ_ERROR"
	CodeProviderError      = "PROVIDER_ERROR"
	CodeMissingAPIKey      = "MISSING_API_KEY"
	CodeClientDisconnected = "CLIENT_DISCONNECTED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// RuntimeError is the normalized shape of every runtime or provider failure.
type RuntimeError struct {
	Code        string
	Message     string
	Suggestions []string
	Cause       error
}

func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

var defaultSuggestions = map[string][]string{
	CodeRuntimeUnavailable: {"Check if the Ollama service is running", "Verify OLLAMA_URL points at the runtime"},
	CodeRuntimeHTTPError:   {"Check that the model is pulled on the runtime", "Try again later"},
	CodeIdleTimeout:        {"The model stopped producing output, try again", "Try a smaller model"},
	CodeTotalTimeout:       {"Try a shorter prompt", "Try a smaller model"},
	CodePromptRejected:     {"Shorten the prompt and try again"},
	CodeStreamReadError:    {"Try again later"},
	CodeProviderError:      {"Check the provider status page", "Verify the API key is valid"},
	CodeMissingAPIKey:      {"Add an API key for this provider in settings"},
	CodeInternalError:      {"Try again later"},
}

// NewRuntimeError builds a RuntimeError with the default suggestions for code.
func NewRuntimeError(code, message string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:        code,
		Message:     message,
		Suggestions: defaultSuggestions[code],
		Cause:       cause,
	}
}

// AsRuntimeError normalizes any error into a RuntimeError.
func AsRuntimeError(err error) *RuntimeError {
	if err == nil {
		return nil
	}
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return rerr
	}
	if errors.Is(err, context.Canceled) {
		return NewRuntimeError(CodeClientDisconnected, "Client disconnected", err)
	}
	return NewRuntimeError(CodeInternalError, "Generation failed unexpectedly", err)
}

// isUnreachable reports whether err means nothing answered at the runtime address.
func isUnreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
