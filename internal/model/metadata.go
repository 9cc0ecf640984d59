package model

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/example/weed-id/internal/tensor"
)

// Metadata describes a model artifact exported next to the weights file.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
}

// LoadMetadata reads a metadata JSON file.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}

// Resolve fills unset fields: the input shape defaults to input, the output
// to a single row of numClasses scores, and tensor names to "input"/"output".
func (m Metadata) Resolve(input tensor.Shape, numClasses int) (Metadata, error) {
	if len(m.InputShape) == 0 {
		m.InputShape = input.Int64()
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = []int64{1, int64(numClasses)}
	}
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}

	if got := tensor.FromInt64(m.InputShape); !got.Equal(input) {
		return Metadata{}, fmt.Errorf("model input shape %s, pipeline produces %s", got, input)
	}
	out := tensor.FromInt64(m.OutputShape)
	if out.Size() <= 0 {
		return Metadata{}, fmt.Errorf("invalid model output shape %s", out)
	}
	if _, err := tensor.Zeros(out).Flatten(); err != nil {
		return Metadata{}, fmt.Errorf("model output must be a score vector: %w", err)
	}
	return m, nil
}
