package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/hive/internal/backend"
	"github.com/ShayCichocki/hive/internal/coordination"
	"github.com/ShayCichocki/hive/internal/graph"
	"github.com/ShayCichocki/hive/pkg/models"
)

func TestSession_RunRecordsPatternOutcome(t *testing.T) {
	echo := backend.NewEcho()
	s, err := NewSession(echo, SessionConfig{
		ID:            "s1",
		EngineOptions: []Option{WithRetryPolicy(fastRetry(1))},
	})
	require.NoError(t, err)

	res, err := s.Run(context.Background(), "build parallel api endpoints", plan(models.StrategyParallel,
		request("backend", "api", "build users endpoint"),
		request("backend", "api", "build orders endpoint"),
	), models.PatternFanOut)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count(graph.StatusCompleted))
	assert.ElementsMatch(t, []string{"backend_api", "backend_api_2"}, echo.Calls())

	effs, err := s.Registry().PatternEffectiveness(context.Background())
	require.NoError(t, err)
	require.Len(t, effs, 1)
	assert.Equal(t, models.PatternFanOut, effs[0].Pattern)
	assert.Equal(t, 1.0, effs[0].Score)
	assert.Equal(t, s.Registry().TaskType("build parallel api endpoints"), effs[0].TaskType)

	s.Close()
	var types []EventType
	for ev := range s.Events() {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, EventBranchCreated)
	assert.Contains(t, types, EventNodeCompleted)
	assert.Equal(t, EventFlowDone, types[len(types)-1])
}

func TestSession_InvalidPatternSkipsRecording(t *testing.T) {
	s, err := NewSession(backend.NewEcho(), SessionConfig{})
	require.NoError(t, err)
	defer s.Close()
	assert.Contains(t, s.ID(), "session-")

	_, err = s.Run(context.Background(), "fix typo", plan(models.StrategyParallel, request("docs", "", "fix typo")), "")
	require.NoError(t, err)

	effs, err := s.Registry().PatternEffectiveness(context.Background())
	require.NoError(t, err)
	assert.Empty(t, effs)
}

func TestSession_TimerCleanupStarts(t *testing.T) {
	cfg := coordination.DefaultConfig()
	cfg.CleanupPolicy = coordination.CleanupTimer
	cfg.CleanupInterval = 10 * time.Millisecond
	s, err := NewSession(backend.NewEcho(), SessionConfig{
		RegistryOptions: []coordination.Option{coordination.WithConfig(cfg)},
	})
	require.NoError(t, err)
	s.Close()
	s.Close()
}

func TestSession_BadRegistryConfig(t *testing.T) {
	cfg := coordination.DefaultConfig()
	cfg.SimilarityThreshold = 2
	_, err := NewSession(backend.NewEcho(), SessionConfig{
		RegistryOptions: []coordination.Option{coordination.WithConfig(cfg)},
	})
	assert.Error(t, err)
}
