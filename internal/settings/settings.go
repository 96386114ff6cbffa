// Package settings stores the process-wide settings document. There is at
// most one, kept under domain.SettingsID.
package settings

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
)

type Service struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

func New(s store.Store, log zerolog.Logger) *Service {
	return &Service{store: s, log: log.With().Str("component", "settings").Logger(), now: time.Now}
}

// Get returns every section. Sections never saved come from Defaults.
func (s *Service) Get(ctx context.Context) (store.Document, error) {
	defaults := Defaults()
	doc, err := s.store.FindOne(ctx, store.Settings, store.ByID(domain.SettingsID))
	if store.IsNotFound(err) {
		return defaults, nil
	}
	if err != nil {
		return nil, apperr.Storage(err)
	}
	out := store.Document{}
	for _, section := range domain.SettingsSections {
		if v, ok := doc[section]; ok && v != nil {
			out[section] = v
		} else {
			out[section] = defaults[section]
		}
	}
	if v, ok := doc["updated_at"]; ok {
		out["updated_at"] = v
	}
	return out, nil
}

// Section returns one section of the current settings.
func (s *Service) Section(ctx context.Context, name string) (map[string]any, error) {
	doc, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	sec, _ := doc[name].(map[string]any)
	return sec, nil
}

// Save replaces only the sections present in patch and leaves the rest of
// the stored document untouched.
func (s *Service) Save(ctx context.Context, patch map[string]map[string]any) error {
	if len(patch) == 0 {
		return apperr.Validation("no settings sections given")
	}
	set := store.Document{}
	for section, values := range patch {
		if !slices.Contains(domain.SettingsSections, section) {
			return apperr.Validation(fmt.Sprintf("unknown settings section %q", section)).WithDetail(section, "unknown section")
		}
		if values == nil {
			values = map[string]any{}
		}
		set[section] = values
	}
	set["updated_at"] = domain.Timestamp(s.now())

	matched, err := s.store.UpdateOne(ctx, store.Settings, store.ByID(domain.SettingsID), set)
	if err != nil {
		return apperr.Storage(err)
	}
	if !matched {
		doc := store.Document{"id": domain.SettingsID}
		for k, v := range set {
			doc[k] = v
		}
		err := s.store.Insert(ctx, store.Settings, doc)
		if errors.Is(err, store.ErrDuplicateID) {
			// another writer created it first
			_, err = s.store.UpdateOne(ctx, store.Settings, store.ByID(domain.SettingsID), set)
		}
		if err != nil {
			return apperr.Storage(err)
		}
	}
	s.log.Info().Strs("sections", keys(patch)).Msg("settings saved")
	return nil
}

func keys(m map[string]map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
