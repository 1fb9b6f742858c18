package producer

import (
	"errors"
	"fmt"
)

// ErrAuthentication marks a resume attempted with invalid credentials. It is
// reported distinctly from generic producer failures so discovered login
// fields are preserved and only values are re-requested.
var ErrAuthentication = errors.New("authentication failed")

// Failure wraps a stage producer error with the stage that raised it. The
// engine never swallows producer errors; it always surfaces stage identity
// plus message.
type Failure struct {
	Stage string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure wraps err as a producer failure for a stage.
func NewFailure(stage string, err error) *Failure {
	return &Failure{Stage: stage, Err: err}
}
