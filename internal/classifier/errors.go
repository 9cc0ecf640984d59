package classifier

import (
	"fmt"

	"github.com/example/weed-id/internal/tensor"
)

// InferenceError reports a failed forward pass, including a model that
// rejected the input shape or returned something other than a score vector.
type InferenceError struct {
	Shape tensor.Shape
	Err   error
}

func (e *InferenceError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Shape) > 0 {
		return fmt.Sprintf("inference on input %s: %v", e.Shape, e.Err)
	}
	return fmt.Sprintf("inference: %v", e.Err)
}

// Unwrap returns the underlying backend error.
func (e *InferenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LabelTableMismatchError reports a prediction vector whose length differs
// from the configured label table.
type LabelTableMismatchError struct {
	Scores int
	Labels int
}

func (e *LabelTableMismatchError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("prediction has %d scores but label table has %d labels", e.Scores, e.Labels)
}
