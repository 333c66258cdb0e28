// Package llm provides the language-model backed collaborators of the crawl:
// link significance scoring, claim extraction and source discovery.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
)

// ErrInvalidJSON is returned when a model reply holds no usable JSON.
var ErrInvalidJSON = errors.New("invalid json from LLM")

// PermanentError indicates an error that will not resolve with retries.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// Client is a language model that answers a prompt with JSON.
type Client interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error)
}

// Middleware decorates a Client.
type Middleware func(Client) Client

// Wrap applies mws to c, the first middleware outermost.
func Wrap(c Client, mws ...Middleware) Client {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}

// extractJSON returns the JSON document embedded in a model reply, which may
// be wrapped in a markdown code fence or surrounded by prose.
func extractJSON(raw []byte) (json.RawMessage, error) {
	s := bytes.TrimSpace(raw)

	if i := bytes.Index(s, []byte("```")); i >= 0 {
		rest := s[i+3:]
		if nl := bytes.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:] // drop the language tag line
		}
		if end := bytes.Index(rest, []byte("```")); end >= 0 {
			rest = rest[:end]
		}
		s = bytes.TrimSpace(rest)
	}

	if json.Valid(s) {
		return json.RawMessage(s), nil
	}

	start := bytes.IndexAny(s, "{[")
	if start < 0 {
		return nil, ErrInvalidJSON
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := bytes.LastIndexByte(s, closer)
	if end < start {
		return nil, ErrInvalidJSON
	}
	candidate := s[start : end+1]
	if !json.Valid(candidate) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(candidate), nil
}
