package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/familyhub/contextd/config"
	"github.com/familyhub/contextd/pkg/api/middleware"
	"github.com/familyhub/contextd/pkg/logger"
	"github.com/familyhub/contextd/pkg/memory"
	"github.com/familyhub/contextd/pkg/prompt"
)

func TestBuildOverrides(t *testing.T) {
	assert.Empty(t, buildOverrides(&globalFlags{}))

	got := buildOverrides(&globalFlags{logLevel: "debug", debug: true})
	assert.Equal(t, "debug", got["log.level"])
	assert.Equal(t, true, got["app.debug"])
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Version:")
	assert.Contains(t, out.String(), "Go Version:")
}

func TestRunPrompt(t *testing.T) {
	cfg := config.DefaultConfig()

	var out bytes.Buffer
	err := runPrompt(context.Background(), &out, cfg, promptOptions{
		role:     "parent",
		language: memory.LanguageSpanish,
		safety:   "standard",
		skills:   []string{"calendar"},
	})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "# Active Role Context")
	assert.Contains(t, text, "# Language Context")
	assert.Contains(t, text, "# Active Skills")
	assert.NotContains(t, text, "# Conversation Context")
}

func TestRunPrompt_Summary(t *testing.T) {
	var out bytes.Buffer
	err := runPrompt(context.Background(), &out, config.DefaultConfig(), promptOptions{
		role:     "child",
		language: memory.LanguageEnglish,
		safety:   "strict",
		minimal:  true,
		summary:  true,
	})
	require.NoError(t, err)

	var res prompt.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Empty(t, res.PromptText)
	assert.True(t, res.Minimal)
	assert.False(t, res.HasLanguageContext)
	assert.NotEmpty(t, res.Sections)
}

func TestRunPrompt_UnknownRole(t *testing.T) {
	err := runPrompt(context.Background(), &bytes.Buffer{}, config.DefaultConfig(), promptOptions{role: "pirate"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "pirate"))
}

func TestOrchestratorConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	oc := orchestratorConfig(cfg)

	assert.Equal(t, cfg.Orchestrator.GetDeadline, oc.GetDeadline)
	assert.Equal(t, cfg.Tiers.Relational.Timeout, oc.Timeouts[memory.TierRelational])
	assert.Equal(t, cfg.Tiers.HotCache.Timeout, oc.Timeouts[memory.TierHotCache])
	assert.Equal(t, cfg.Orchestrator.Breaker.Threshold, oc.Breaker.Threshold)
}

func TestReloaderApply(t *testing.T) {
	cfg := config.DefaultConfig()
	var logBuf bytes.Buffer
	log := logger.NewWithWriter(&logBuf, logger.InfoLevel, "json")
	a := &app{
		cfg:       cfg,
		log:       log,
		assembler: prompt.NewAssembler(prompt.NewLibrary("", nil), nil, promptConfig(cfg), nil),
		limiter:   middleware.NewRateLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst),
	}
	r := newReloader(cfg, a)

	next := config.DefaultConfig()
	next.Log.Level = "debug"
	next.Prompt.MaxRecent = 4
	next.Server.RateLimit.RequestsPerSecond = 1
	next.Server.RateLimit.Burst = 2
	r.apply(next)

	assert.Equal(t, logger.DebugLevel, log.GetLevel())
	assert.Equal(t, 4, a.assembler.Config().MaxRecent)
	assert.Contains(t, logBuf.String(), "rate limit changed")

	// Applying the same values again is a no-op.
	logBuf.Reset()
	r.apply(next)
	assert.Empty(t, logBuf.String())
}
