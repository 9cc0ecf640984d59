package model

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/example/weed-id/internal/tensor"
)

// ONNXOptions configures LoadONNX.
type ONNXOptions struct {
	ModelPath string
	// SharedLibraryPath points at libonnxruntime; empty uses the loader default.
	SharedLibraryPath string
	Metadata          Metadata
}

// ONNXModel runs an ONNX export of the classifier in-process. The session
// reuses pre-allocated tensors, so runs are serialized.
type ONNXModel struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputShape   tensor.Shape
	outputShape  tensor.Shape
}

// LoadONNX initializes the runtime and opens the model file. Metadata must
// already be resolved.
func LoadONNX(opts ONNXOptions) (*ONNXModel, error) {
	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	meta := opts.Metadata
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", opts.ModelPath, err)
	}

	return &ONNXModel{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputShape:   tensor.FromInt64(meta.InputShape),
		outputShape:  tensor.FromInt64(meta.OutputShape),
	}, nil
}

// Predict copies input into the session, runs it and returns a copy of the
// output scores.
func (m *ONNXModel) Predict(ctx context.Context, input tensor.Tensor) (tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return tensor.Tensor{}, err
	}
	if !input.Shape.Equal(m.inputShape) {
		return tensor.Tensor{}, fmt.Errorf("onnx session expects input %s, got %s", m.inputShape, input.Shape)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.inputTensor.GetData(), input.Data)
	if err := m.session.Run(); err != nil {
		return tensor.Tensor{}, fmt.Errorf("onnx run failed: %w", err)
	}

	out := append([]float32(nil), m.outputTensor.GetData()...)
	return tensor.New(m.outputShape, out)
}

// Close releases the session and the runtime environment.
func (m *ONNXModel) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inputTensor != nil {
		m.inputTensor.Destroy()
		m.inputTensor = nil
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
		m.outputTensor = nil
	}
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	ort.DestroyEnvironment()
}
