package app

import (
	"context"
	"testing"

	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeCoreOnly(t *testing.T) {
	svc, err := Initialize(context.Background(), config.GetDefaults(), logger.NewNop())
	require.NoError(t, err)
	defer svc.Cleanup()

	assert.NotNil(t, svc.Engine)
	assert.NotNil(t, svc.Evaluator)
	assert.Nil(t, svc.Mirror)
	assert.Nil(t, svc.Source)
	assert.Nil(t, svc.Sync, "sync needs both a source and a destination")
}

func TestInitializeWithHTTPSourceAndDestination(t *testing.T) {
	cfg := config.GetDefaults()
	cfg.Source.Kind = "http"
	cfg.Source.HTTP.BaseURL = "http://records.internal"
	cfg.Destination.BaseURL = "http://cms.internal"

	svc, err := Initialize(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	defer svc.Cleanup()

	assert.NotNil(t, svc.Source)
	assert.Nil(t, svc.SQL)
	assert.NotNil(t, svc.Publisher)
	assert.NotNil(t, svc.Sync)
}

func TestInitializeRejectsBadCustomPattern(t *testing.T) {
	cfg := config.GetDefaults()
	cfg.Redaction.CustomPatterns = []config.PatternConfig{{Name: "broken", Expression: "([", Placeholder: "[X]"}}

	_, err := Initialize(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)
}

func TestInitializeRejectsUnknownSource(t *testing.T) {
	cfg := config.GetDefaults()
	cfg.Source.Kind = "ftp"

	_, err := Initialize(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)
}

func TestApplyConfig(t *testing.T) {
	svc, err := Initialize(context.Background(), config.GetDefaults(), logger.NewNop())
	require.NoError(t, err)

	next := config.GetDefaults()
	next.Redaction.RelevancyThreshold = 400
	svc.ApplyConfig(next)
	assert.Equal(t, 400, svc.Settings.Get().RelevancyThreshold)

	bad := config.GetDefaults()
	bad.Redaction.RelevancyThreshold = 950
	svc.ApplyConfig(bad)
	assert.Equal(t, 400, svc.Settings.Get().RelevancyThreshold, "invalid settings are ignored")
}
