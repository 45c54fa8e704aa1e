// Package backend defines the execution collaborator that runs a branch's
// instruction, plus in-process implementations used for dry runs and tests.
package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/pkg/models"
)

// Result is what one execution produced.
type Result struct {
	Output    string
	Artifacts []string
}

// Config is the branch configuration handed to Create.
type Config struct {
	BranchID string
	Name     string
	Role     string
	Domains  []string
	Context  string
}

// ConfigFor builds a Config from a branch.
func ConfigFor(b *models.Branch) Config {
	return Config{
		BranchID: b.ID,
		Name:     b.Name,
		Role:     b.Role,
		Domains:  append([]string(nil), b.Domains...),
		Context:  b.Context,
	}
}

// Backend creates execution handles and runs instructions against them.
// Both calls may block on an external service and must honor ctx.
type Backend interface {
	Create(ctx context.Context, cfg Config) (string, error)
	Execute(ctx context.Context, handle, instruction string) (Result, error)
}

// Func adapts a plain function to Backend. Create returns a random handle.
type Func func(ctx context.Context, handle, instruction string) (Result, error)

// Create returns a fresh handle.
func (f Func) Create(ctx context.Context, cfg Config) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return cfg.Name + "-" + uuid.NewString()[:8], nil
}

// Execute calls f.
func (f Func) Execute(ctx context.Context, handle, instruction string) (Result, error) {
	return f(ctx, handle, instruction)
}

// Echo is a deterministic backend that returns the instruction it was
// given. It records every call.
type Echo struct {
	mu    sync.Mutex
	calls []string
	roles map[string]string
}

// NewEcho creates an Echo backend.
func NewEcho() *Echo {
	return &Echo{roles: make(map[string]string)}
}

// Create returns the branch name as the handle.
func (e *Echo) Create(ctx context.Context, cfg Config) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.roles[cfg.Name] = cfg.Role
	return cfg.Name, nil
}

// Execute echoes the instruction prefixed by the handle's role.
func (e *Echo) Execute(ctx context.Context, handle, instruction string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	e.mu.Lock()
	e.calls = append(e.calls, handle)
	role, ok := e.roles[handle]
	e.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("echo: unknown handle %q", handle)
	}
	first, _, _ := strings.Cut(strings.TrimSpace(instruction), "\n")
	return Result{Output: fmt.Sprintf("[%s] %s", role, first)}, nil
}

// Calls returns the handles executed so far, in call order.
func (e *Echo) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}
