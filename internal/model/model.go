// Package model defines the persisted campaign/run/compound hierarchy and
// its lookup and mutation helpers. All access goes through the store's
// lock; nothing in this package is concurrency-safe on its own.
package model

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion of the persisted state snapshot.
const SchemaVersion = 1

// State is the full persisted hierarchy plus the bearer credential.
type State struct {
	SchemaVersion int        `json:"schema_version"`
	APIKey        string     `json:"api_key,omitempty"`
	Campaigns     []Campaign `json:"campaigns"`
}

// NewState returns an empty state at the current schema version.
func NewState() *State {
	return &State{
		SchemaVersion: SchemaVersion,
		Campaigns:     []Campaign{},
	}
}

// Campaign groups runs sharing one protein sequence context.
type Campaign struct {
	ID              uuid.UUID  `json:"id"`
	DisplayName     string     `json:"display_name"`
	FolderName      string     `json:"folder_name"`
	ProteinSequence string     `json:"protein_sequence"`
	Description     string     `json:"description,omitempty"`
	Archived        bool       `json:"archived"`
	ArchivedAt      *time.Time `json:"archived_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	Runs            []Run      `json:"runs"`
}

// Run is one batch submission sharing inference parameters.
type Run struct {
	ID          uuid.UUID  `json:"id"`
	DisplayName string     `json:"display_name"`
	FolderName  string     `json:"folder_name"`
	Archived    bool       `json:"archived"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	Params      RunParams  `json:"params"`
	CreatedAt   time.Time  `json:"created_at"`
	// CompletedAt is set when every compound is terminal. Retrying a
	// compound clears it, so a run can complete more than once.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Compounds   []Compound `json:"compounds"`
}

// RunParams is the immutable inference parameter snapshot for a run.
type RunParams struct {
	RecyclingSteps   int     `json:"recycling_steps"`
	DiffusionSamples int     `json:"diffusion_samples"`
	SamplingSteps    int     `json:"sampling_steps"`
	StepScale        float64 `json:"step_scale"`
}

// DefaultRunParams returns the standard inference parameters.
func DefaultRunParams() RunParams {
	return RunParams{
		RecyclingSteps:   3,
		DiffusionSamples: 1,
		SamplingSteps:    200,
		StepScale:        1.5,
	}
}

// Compound is one submitted prediction job for a single ligand candidate.
type Compound struct {
	ID           uuid.UUID        `json:"id"`
	DisplayName  string           `json:"display_name"`
	FolderName   string           `json:"folder_name"`
	SMILES       string           `json:"smiles"`
	BoltzJobID   string           `json:"boltz_job_id,omitempty"`
	Status       Status           `json:"status"`
	SubmittedAt  *time.Time       `json:"submitted_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	Metrics      *CompoundMetrics `json:"metrics,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	// DownloadError is kept separate from ErrorMessage so a late artifact
	// retrieval failure never overwrites a Completed prediction status.
	DownloadError string `json:"download_error,omitempty"`
}

// ResetForRetry returns a terminal compound to Pending with job identity,
// timestamps, metrics and errors cleared. This is the only sanctioned exit
// from a terminal status.
func (c *Compound) ResetForRetry() {
	c.Status = StatusPending
	c.BoltzJobID = ""
	c.SubmittedAt = nil
	c.CompletedAt = nil
	c.Metrics = nil
	c.ErrorMessage = ""
	c.DownloadError = ""
}

// CompoundMetrics is the parsed result payload for a completed prediction.
type CompoundMetrics struct {
	Affinity AffinityMetrics `json:"affinity"`
	Samples  []SampleMetrics `json:"samples"`
}

// AffinityMetrics holds the binding affinity scores.
type AffinityMetrics struct {
	BindingConfidence float64 `json:"binding_confidence"`
	OptimizationScore float64 `json:"optimization_score"`
}

// SampleMetrics holds per-sample structure quality scores. Every field is
// optional in the remote payload.
type SampleMetrics struct {
	StructureConfidence *float64 `json:"structure_confidence,omitempty"`
	IPTM                *float64 `json:"iptm,omitempty"`
	LigandIPTM          *float64 `json:"ligand_iptm,omitempty"`
	ComplexPLDDT        *float64 `json:"complex_plddt,omitempty"`
	PTM                 *float64 `json:"ptm,omitempty"`
	ProteinIPTM         *float64 `json:"protein_iptm,omitempty"`
	ComplexIPLDDT       *float64 `json:"complex_iplddt,omitempty"`
	ComplexPDE          *float64 `json:"complex_pde,omitempty"`
	ComplexIPDE         *float64 `json:"complex_ipde,omitempty"`
}

// CompoundRef is a minimal projection used by the polling hot path to
// avoid cloning full subtrees.
type CompoundRef struct {
	CompoundID  uuid.UUID
	BoltzJobID  string
	CampaignID  uuid.UUID
	RunID       uuid.UUID
	SubmittedAt time.Time
}

// FindCampaign returns the campaign with the given id, or nil.
func (s *State) FindCampaign(id uuid.UUID) *Campaign {
	for i := range s.Campaigns {
		if s.Campaigns[i].ID == id {
			return &s.Campaigns[i]
		}
	}
	return nil
}

// FindRun returns the run with the given id, or nil.
func (s *State) FindRun(id uuid.UUID) *Run {
	for i := range s.Campaigns {
		for j := range s.Campaigns[i].Runs {
			if s.Campaigns[i].Runs[j].ID == id {
				return &s.Campaigns[i].Runs[j]
			}
		}
	}
	return nil
}

// FindCompound returns the compound with the given id, or nil.
func (s *State) FindCompound(id uuid.UUID) *Compound {
	for i := range s.Campaigns {
		for j := range s.Campaigns[i].Runs {
			for k := range s.Campaigns[i].Runs[j].Compounds {
				if s.Campaigns[i].Runs[j].Compounds[k].ID == id {
					return &s.Campaigns[i].Runs[j].Compounds[k]
				}
			}
		}
	}
	return nil
}

// FindCompoundContext returns the campaign and run owning a compound,
// together with the compound itself, or nils when absent.
func (s *State) FindCompoundContext(id uuid.UUID) (*Campaign, *Run, *Compound) {
	for i := range s.Campaigns {
		c := &s.Campaigns[i]
		for j := range c.Runs {
			r := &c.Runs[j]
			for k := range r.Compounds {
				if r.Compounds[k].ID == id {
					return c, r, &r.Compounds[k]
				}
			}
		}
	}
	return nil, nil, nil
}

// FindRunContext returns the campaign owning a run together with the run.
func (s *State) FindRunContext(id uuid.UUID) (*Campaign, *Run) {
	for i := range s.Campaigns {
		c := &s.Campaigns[i]
		for j := range c.Runs {
			if c.Runs[j].ID == id {
				return c, &c.Runs[j]
			}
		}
	}
	return nil, nil
}

// AllInProgress collects refs for every non-terminal compound that has
// both a job id and a submission time.
func (s *State) AllInProgress() []CompoundRef {
	var refs []CompoundRef
	for i := range s.Campaigns {
		c := &s.Campaigns[i]
		for j := range c.Runs {
			r := &c.Runs[j]
			for k := range r.Compounds {
				cp := &r.Compounds[k]
				if cp.Status.IsTerminal() || cp.BoltzJobID == "" || cp.SubmittedAt == nil {
					continue
				}
				refs = append(refs, CompoundRef{
					CompoundID:  cp.ID,
					BoltzJobID:  cp.BoltzJobID,
					CampaignID:  c.ID,
					RunID:       r.ID,
					SubmittedAt: *cp.SubmittedAt,
				})
			}
		}
	}
	return refs
}

// RunCompletion summarizes a run whose compounds have all reached a
// terminal status.
type RunCompletion struct {
	RunID          uuid.UUID `json:"run_id"`
	CampaignID     uuid.UUID `json:"campaign_id"`
	RunName        string    `json:"run_name"`
	TotalCompounds int       `json:"total_compounds"`
	CompletedCount int       `json:"completed_count"`
	FailedCount    int       `json:"failed_count"`
	TimedOutCount  int       `json:"timed_out_count"`
	CancelledCount int       `json:"cancelled_count"`
}

// CheckRunCompletion returns a completion summary the first time every
// compound in the run is terminal, and nil on every later call for that
// run (guarded by CompletedAt). The caller is expected to set CompletedAt
// when a summary is returned.
func (s *State) CheckRunCompletion(runID uuid.UUID) *RunCompletion {
	campaign, run := s.FindRunContext(runID)
	if run == nil {
		return nil
	}
	if run.CompletedAt != nil {
		return nil
	}
	if len(run.Compounds) == 0 {
		return nil
	}

	summary := RunCompletion{
		RunID:          run.ID,
		CampaignID:     campaign.ID,
		RunName:        run.DisplayName,
		TotalCompounds: len(run.Compounds),
	}
	for i := range run.Compounds {
		switch run.Compounds[i].Status {
		case StatusCompleted:
			summary.CompletedCount++
		case StatusFailed:
			summary.FailedCount++
		case StatusTimedOut:
			summary.TimedOutCount++
		case StatusCancelled:
			summary.CancelledCount++
		default:
			return nil // still in progress
		}
	}
	return &summary
}

// Clone returns a deep copy safe to serialize outside any lock.
func (s *State) Clone() *State {
	out := &State{
		SchemaVersion: s.SchemaVersion,
		APIKey:        s.APIKey,
		Campaigns:     make([]Campaign, len(s.Campaigns)),
	}
	for i := range s.Campaigns {
		out.Campaigns[i] = s.Campaigns[i].Clone()
	}
	return out
}

// Clone returns a deep copy of the campaign.
func (c Campaign) Clone() Campaign {
	out := c
	out.ArchivedAt = cloneTime(c.ArchivedAt)
	out.Runs = make([]Run, len(c.Runs))
	for i := range c.Runs {
		out.Runs[i] = c.Runs[i].Clone()
	}
	return out
}

// Clone returns a deep copy of the run.
func (r Run) Clone() Run {
	out := r
	out.ArchivedAt = cloneTime(r.ArchivedAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.Compounds = make([]Compound, len(r.Compounds))
	for i := range r.Compounds {
		out.Compounds[i] = r.Compounds[i].Clone()
	}
	return out
}

// Clone returns a deep copy of the compound.
func (c Compound) Clone() Compound {
	out := c
	out.SubmittedAt = cloneTime(c.SubmittedAt)
	out.CompletedAt = cloneTime(c.CompletedAt)
	if c.Metrics != nil {
		m := *c.Metrics
		m.Samples = make([]SampleMetrics, len(c.Metrics.Samples))
		copy(m.Samples, c.Metrics.Samples)
		out.Metrics = &m
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
