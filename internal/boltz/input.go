package boltz

import (
	"gopkg.in/yaml.v3"

	"boltzflow/internal/apperrors"
	"boltzflow/internal/model"
)

// InferenceInput is the structured job spec wrapper expected by the
// submission endpoint.
type InferenceInput struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// InferenceOptions mirrors the run's inference parameters on the wire.
type InferenceOptions struct {
	RecyclingSteps   int     `json:"recycling_steps"`
	DiffusionSamples int     `json:"diffusion_samples"`
	SamplingSteps    int     `json:"sampling_steps"`
	StepScale        float64 `json:"step_scale"`
}

type inferenceDoc struct {
	Version   int             `yaml:"version"`
	Sequences []sequenceEntry `yaml:"sequences"`
}

type sequenceEntry struct {
	Protein *proteinSpec `yaml:"protein,omitempty"`
	SMILES  *smilesSpec  `yaml:"smiles,omitempty"`
}

type proteinSpec struct {
	ID       string `yaml:"id"`
	Sequence string `yaml:"sequence"`
}

type smilesSpec struct {
	ID    string `yaml:"id"`
	Value string `yaml:"value"`
}

// BuildInferenceInput assembles the YAML job spec for one protein-ligand
// pair. Marshalling goes through a real YAML encoder: SMILES strings
// contain characters like ':', '[', '@' and '#' that break naive string
// templating.
func BuildInferenceInput(proteinSequence, smiles, ligandChainID string) (InferenceInput, error) {
	doc := inferenceDoc{
		Version: 2,
		Sequences: []sequenceEntry{
			{Protein: &proteinSpec{ID: "A", Sequence: proteinSequence}},
			{SMILES: &smilesSpec{ID: ligandChainID, Value: smiles}},
		},
	}
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return InferenceInput{}, apperrors.Internal("encode inference input", err)
	}
	return InferenceInput{Type: "yaml_string", Value: string(raw)}, nil
}

// BuildInferenceOptions maps run parameters to the wire options object.
func BuildInferenceOptions(p model.RunParams) InferenceOptions {
	return InferenceOptions{
		RecyclingSteps:   p.RecyclingSteps,
		DiffusionSamples: p.DiffusionSamples,
		SamplingSteps:    p.SamplingSteps,
		StepScale:        p.StepScale,
	}
}
