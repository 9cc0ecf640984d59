package classifier

import (
	"fmt"
	"strings"
)

// LabelTable maps output index i of the model to a class name. The ordering
// is fixed when the model is trained and cannot be checked here.
type LabelTable []string

// DefaultLabels is the class ordering of the reference weed model.
var DefaultLabels = LabelTable{"CELOSIA_ARGENTEA_L", "CROWFOOT_GRASS", "PURPLE_CHLORIS"}

// ParseLabels splits a comma separated list, trimming blanks.
func ParseLabels(raw string) LabelTable {
	var labels LabelTable
	for _, part := range strings.Split(raw, ",") {
		if label := strings.TrimSpace(part); label != "" {
			labels = append(labels, label)
		}
	}
	return labels
}

// ClassScore pairs a label with its raw score.
type ClassScore struct {
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

// Result is the outcome shown to the user.
type Result struct {
	Label      string       `json:"label"`
	Index      int          `json:"index"`
	Confidence float32      `json:"confidence"`
	Scores     []ClassScore `json:"scores"`
}

// ConfidenceText renders the confidence with two decimals.
func (r Result) ConfidenceText() string {
	return fmt.Sprintf("%.2f", r.Confidence)
}

// Format picks the highest score and its label. Ties resolve to the lowest
// index. The confidence is the raw score, not renormalised.
func Format(pred Prediction, labels LabelTable) (Result, error) {
	if pred.Len() != len(labels) || pred.Len() == 0 {
		return Result{}, &LabelTableMismatchError{Scores: pred.Len(), Labels: len(labels)}
	}

	best := ArgMax(pred.Scores)
	scores := make([]ClassScore, len(labels))
	for i, label := range labels {
		scores[i] = ClassScore{Label: label, Score: pred.Scores[i]}
	}

	return Result{
		Label:      labels[best],
		Index:      best,
		Confidence: pred.Scores[best],
		Scores:     scores,
	}, nil
}

// ArgMax returns the index of the first maximum, or -1 for an empty slice.
// NaN entries never win.
func ArgMax(values []float32) int {
	best := -1
	for i, v := range values {
		if v != v {
			continue
		}
		if best < 0 || v > values[best] {
			best = i
		}
	}
	if best < 0 && len(values) > 0 {
		return 0
	}
	return best
}
