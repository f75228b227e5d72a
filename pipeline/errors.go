package pipeline

import (
	"errors"
	"fmt"

	"github.com/glimte/mmate-eventbus/registry"
)

var (
	// ErrTypeMismatch matches every *TypeMismatchError
	ErrTypeMismatch = errors.New("pipeline: payload type mismatch")

	// ErrNoTerminal is returned by Build when no terminal filter was set
	ErrNoTerminal = errors.New("pipeline: no terminal filter")

	// ErrMultipleTerminals is returned by Build when more than one terminal was set
	ErrMultipleTerminals = errors.New("pipeline: more than one terminal filter")
)

// TypeMismatchError reports a stage that expects a different payload type than
// the one it receives
type TypeMismatchError struct {
	Pipeline string
	Stage    string
	Expected registry.TypeKey
	Actual   registry.TypeKey
}

func (e *TypeMismatchError) Error() string {
	where := e.Stage
	if e.Pipeline != "" {
		where = e.Pipeline + "/" + e.Stage
	}
	if where == "" {
		return fmt.Sprintf("type mismatch: expected %s, got %s", e.Expected, e.Actual)
	}
	return fmt.Sprintf("type mismatch at %s: expected %s, got %s", where, e.Expected, e.Actual)
}

func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}
