// Package apperr holds the error kinds the answering pipeline recovers from.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindEmbedding      Kind = "embedding"
	KindRetrieval      Kind = "retrieval"
	KindSynthesisEmpty Kind = "synthesis_empty"
	KindPersistence    Kind = "persistence"
	KindSuggestion     Kind = "suggestion"
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Embedding(op string, err error) *Error   { return New(KindEmbedding, op, err) }
func Retrieval(op string, err error) *Error   { return New(KindRetrieval, op, err) }
func Persistence(op string, err error) *Error { return New(KindPersistence, op, err) }
func Suggestion(op string, err error) *Error  { return New(KindSuggestion, op, err) }

func SynthesisEmpty(op string) *Error {
	return New(KindSynthesisEmpty, op, nil)
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
