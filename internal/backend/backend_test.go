package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/hive/pkg/models"
)

func TestEcho(t *testing.T) {
	ctx := context.Background()
	e := NewEcho()

	b := &models.Branch{ID: "b1", Name: "backend_api", Role: "backend", Domains: []string{"api"}}
	h, err := e.Create(ctx, ConfigFor(b))
	require.NoError(t, err)
	assert.Equal(t, "backend_api", h)

	res, err := e.Execute(ctx, h, "build the endpoint\nwith details")
	require.NoError(t, err)
	assert.Equal(t, "[backend] build the endpoint", res.Output)
	assert.Equal(t, []string{"backend_api"}, e.Calls())

	_, err = e.Execute(ctx, "missing", "x")
	assert.Error(t, err)
}

func TestEcho_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEcho().Create(ctx, Config{Name: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFunc(t *testing.T) {
	f := Func(func(ctx context.Context, handle, instruction string) (Result, error) {
		return Result{Output: instruction, Artifacts: []string{handle}}, nil
	})
	h, err := f.Create(context.Background(), Config{Name: "tester_testing"})
	require.NoError(t, err)
	assert.Contains(t, h, "tester_testing-")

	res, err := f.Execute(context.Background(), h, "run tests")
	require.NoError(t, err)
	assert.Equal(t, "run tests", res.Output)
	assert.Equal(t, []string{h}, res.Artifacts)
}

func TestConfigFor_CopiesDomains(t *testing.T) {
	b := &models.Branch{Domains: []string{"web"}}
	cfg := ConfigFor(b)
	cfg.Domains[0] = "changed"
	assert.Equal(t, "web", b.Domains[0])
}
