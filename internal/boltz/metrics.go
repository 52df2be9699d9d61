package boltz

import (
	"encoding/json"
	"errors"

	"boltzflow/internal/apperrors"
	"boltzflow/internal/model"
)

type metricsPayload struct {
	Affinity      *affinityPayload      `json:"affinity"`
	SampleResults []model.SampleMetrics `json:"sample_results"`
}

type affinityPayload struct {
	BindingConfidence *float64 `json:"binding_confidence"`
	OptimizationScore *float64 `json:"optimization_score"`
}

// ParseMetrics validates and converts the raw metrics blob of a completed
// prediction. The affinity object and the sample_results array are
// required; every per-sample field is optional. A record that reports
// completion without parseable metrics is treated as failed by callers.
func ParseMetrics(rec *PredictionRecord) (*model.CompoundMetrics, error) {
	const op = "parse metrics"

	if rec.PredictionResults == nil {
		return nil, apperrors.Internal(op, errors.New("no prediction results"))
	}
	if rec.PredictionResults.Output == nil {
		return nil, apperrors.Internal(op, errors.New("no prediction output"))
	}
	raw := rec.PredictionResults.Output.Metrics
	if len(raw) == 0 {
		return nil, apperrors.Internal(op, errors.New("no metrics in output"))
	}

	var payload metricsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apperrors.Internal(op, err)
	}
	if payload.Affinity == nil {
		return nil, apperrors.Internal(op, errors.New("missing affinity metrics"))
	}
	if payload.SampleResults == nil {
		return nil, apperrors.Internal(op, errors.New("missing sample_results array"))
	}

	out := &model.CompoundMetrics{
		Affinity: model.AffinityMetrics{
			BindingConfidence: floatOrZero(payload.Affinity.BindingConfidence),
			OptimizationScore: floatOrZero(payload.Affinity.OptimizationScore),
		},
		Samples: payload.SampleResults,
	}
	return out, nil
}

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
