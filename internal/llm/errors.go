package llm

import (
	"errors"
	"fmt"
)

// ErrMissingCredential is returned when no API key was given and none is set
// in the environment.
var ErrMissingCredential = errors.New("llm: no API key provided (set OPENAI_API_KEY)")

// GatewayError wraps any failure of a provider call. Callers show Error() to
// the user and do not retry.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
