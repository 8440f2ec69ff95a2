package pipeline

import (
	"fmt"
	"math"
)

// Weights maps each stage to the share of overall progress it contributes.
// Fan-out stages split their weight evenly across units.
type Weights map[Stage]float64

// DefaultWeights mirrors the configuration defaults.
func DefaultWeights() Weights {
	return Weights{
		StageCompressVideo:     15,
		StageExtractAudio:      10,
		StageSegmentAudio:      5,
		StageTranscribeSegment: 30,
		StageGenerateTags:      5,
		StageGenerateTitle:     5,
		StageGenerateTodo:      5,
		StageGenerateEmbedding: 5,
		StageUploadRemote:      10,
		StageFinalize:          10,
	}
}

// WeightsFromConfig converts the configured stage-name map.
func WeightsFromConfig(values map[string]float64) (Weights, error) {
	if len(values) == 0 {
		return DefaultWeights(), nil
	}
	w := make(Weights, len(values))
	for name, value := range values {
		stage, ok := ParseStage(name)
		if !ok {
			return nil, fmt.Errorf("progress weights: unknown stage %q", name)
		}
		w[stage] = value
	}
	return w, w.Validate()
}

// Validate checks that every stage has a non-negative weight and the total is 100.
func (w Weights) Validate() error {
	var total float64
	for _, stage := range defaultOrder {
		value, ok := w[stage]
		if !ok {
			return fmt.Errorf("progress weights: missing stage %q", stage)
		}
		if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("progress weights: stage %q has invalid weight %v", stage, value)
		}
		total += value
	}
	if math.Abs(total-100) > 1e-6 {
		return fmt.Errorf("progress weights: total %g, want 100", total)
	}
	return nil
}

// Unit returns the contribution of one completed unit of the stage.
func (w Weights) Unit(stage Stage, units int) float64 {
	if units <= 1 {
		return w[stage]
	}
	return w[stage] / float64(units)
}
