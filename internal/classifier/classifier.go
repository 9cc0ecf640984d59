package classifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/weed-id/internal/tensor"
)

// Model is a loaded inference artifact. Implementations must not mutate
// shared state visible to other callers.
type Model interface {
	Predict(ctx context.Context, input tensor.Tensor) (tensor.Tensor, error)
}

// ModelFunc adapts a plain function to Model.
type ModelFunc func(ctx context.Context, input tensor.Tensor) (tensor.Tensor, error)

// Predict calls f.
func (f ModelFunc) Predict(ctx context.Context, input tensor.Tensor) (tensor.Tensor, error) {
	return f(ctx, input)
}

// Prediction is the score vector returned for one image.
type Prediction struct {
	Scores []float32
}

// Len returns the number of class scores.
func (p Prediction) Len() int {
	return len(p.Scores)
}

// Classifier runs a Model against inputs of a fixed shape.
type Classifier struct {
	model      Model
	inputShape tensor.Shape
}

// New returns a classifier that only accepts inputs of inputShape.
func New(model Model, inputShape tensor.Shape) *Classifier {
	return &Classifier{model: model, inputShape: append(tensor.Shape(nil), inputShape...)}
}

// InputShape reports the accepted input shape.
func (c *Classifier) InputShape() tensor.Shape {
	return c.inputShape
}

// Classify evaluates the model on input. Every failure, including a panic
// inside the backend, comes back as *InferenceError.
func (c *Classifier) Classify(ctx context.Context, input tensor.Tensor) (pred Prediction, err error) {
	if c.model == nil {
		return Prediction{}, &InferenceError{Shape: input.Shape, Err: errors.New("no model loaded")}
	}
	if !input.Shape.Equal(c.inputShape) {
		return Prediction{}, &InferenceError{
			Shape: input.Shape,
			Err:   fmt.Errorf("model expects input %s", c.inputShape),
		}
	}
	if len(input.Data) != input.Shape.Size() {
		return Prediction{}, &InferenceError{
			Shape: input.Shape,
			Err:   fmt.Errorf("input holds %d values", len(input.Data)),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			pred = Prediction{}
			err = &InferenceError{Shape: input.Shape, Err: fmt.Errorf("model panicked: %v", r)}
		}
	}()

	out, err := c.model.Predict(ctx, input)
	if err != nil {
		return Prediction{}, &InferenceError{Shape: input.Shape, Err: err}
	}
	if len(out.Data) == 0 {
		return Prediction{}, &InferenceError{Shape: input.Shape, Err: errors.New("model returned no scores")}
	}
	if len(out.Shape) > 0 && out.Shape.Size() != len(out.Data) {
		return Prediction{}, &InferenceError{
			Shape: input.Shape,
			Err:   fmt.Errorf("model output shape %s does not match %d values", out.Shape, len(out.Data)),
		}
	}
	scores, err := out.Flatten()
	if err != nil {
		return Prediction{}, &InferenceError{Shape: input.Shape, Err: err}
	}

	return Prediction{Scores: append([]float32(nil), scores...)}, nil
}
