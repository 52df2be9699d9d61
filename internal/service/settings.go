package service

import (
	"context"

	"boltzflow/internal/apperrors"
	"boltzflow/internal/model"
)

// Settings is the configuration surface exposed over the API. RootDir is
// fixed at startup and reported read-only.
type Settings struct {
	APIKeySet bool   `json:"api_key_set"`
	RootDir   string `json:"root_dir"`
}

// GetSettings reports whether a credential is configured and where the
// workspace lives. The key itself is never returned.
func (s *Service) GetSettings() Settings {
	var set bool
	s.store.View(func(st *model.State) {
		set = st.APIKey != ""
	})
	return Settings{APIKeySet: set, RootDir: s.store.Root()}
}

// SaveSettings stores a new bearer credential for the remote API and
// persists it with the state snapshot.
func (s *Service) SaveSettings(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return apperrors.Validation("api_key", "api_key is required")
	}
	s.store.Update(func(st *model.State) {
		st.APIKey = apiKey
	})
	return s.persist(ctx)
}

// TestConnection verifies the stored credential against the remote API.
func (s *Service) TestConnection(ctx context.Context) error {
	var apiKey string
	s.store.View(func(st *model.State) {
		apiKey = st.APIKey
	})
	if apiKey == "" {
		return apperrors.Validation("api_key", "no API key configured")
	}
	return s.remote.Probe(ctx, apiKey)
}
