package settings

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
	"medipos/m/internal/store/memory"
)

func TestGetReturnsDefaultsWhenEmpty(t *testing.T) {
	svc := New(memory.New(), zerolog.Nop())
	doc, err := svc.Get(context.Background())
	require.NoError(t, err)
	for _, section := range domain.SettingsSections {
		assert.Contains(t, doc, section)
	}
	general := doc["general"].(map[string]any)
	assert.Equal(t, "$", general["currency_symbol"])
}

func TestSaveMergesSections(t *testing.T) {
	s := memory.New()
	svc := New(s, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, map[string]map[string]any{
		"general": {"shop_name": "Green Cross"},
	}))
	require.NoError(t, svc.Save(ctx, map[string]map[string]any{
		"alerts": {"expiry_alert_days": 60},
	}))

	n, err := s.Count(ctx, store.Settings, store.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	general, err := svc.Section(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, "Green Cross", general["shop_name"])

	alerts, err := svc.Section(ctx, "alerts")
	require.NoError(t, err)
	assert.EqualValues(t, 60, alerts["expiry_alert_days"])

	doc, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, doc["updated_at"])
}

func TestSaveRejectsUnknownSection(t *testing.T) {
	svc := New(memory.New(), zerolog.Nop())
	err := svc.Save(context.Background(), map[string]map[string]any{"theme": {"dark": true}})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	err = svc.Save(context.Background(), nil)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}
