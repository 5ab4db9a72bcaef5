package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbagent/core/internal/config"
)

func TestApplyOverlayOverridesOnlyGivenFields(t *testing.T) {
	cfg := &config.Config{Language: "en"}
	cfg.Sound.Volume = 70

	require.NoError(t, cfg.ApplyOverlay([]byte(`{"language":"fr"}`)))
	assert.Equal(t, "fr", cfg.Language)
	assert.Equal(t, 70, cfg.Sound.Volume, "overlay omitting sound must not reset it")
}

func TestManagerReloadAppliesOverlay(t *testing.T) {
	mgr := config.NewManager(&config.Config{Language: "en"})
	require.NoError(t, mgr.Reload([]byte(`{"language":"de"}`)))
	assert.Equal(t, "de", mgr.Get().Language)
}
