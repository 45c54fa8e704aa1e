package api

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/internal/backend"
	"github.com/ShayCichocki/hive/internal/retry"
)

// Backend executes branch instructions as single model completions. Each
// handle carries a system prompt built from the branch's role, domains and
// background context.
type Backend struct {
	client Completer

	mu      sync.RWMutex
	systems map[string]string
}

var _ backend.Backend = (*Backend)(nil)

// NewBackend creates a Backend over client.
func NewBackend(client Completer) *Backend {
	return &Backend{client: client, systems: make(map[string]string)}
}

// Create implements backend.Backend.
func (b *Backend) Create(ctx context.Context, cfg backend.Config) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle := cfg.Name + "-" + uuid.NewString()[:8]
	b.mu.Lock()
	b.systems[handle] = SystemPrompt(cfg)
	b.mu.Unlock()
	return handle, nil
}

// Execute implements backend.Backend. Unknown handles fail permanently.
func (b *Backend) Execute(ctx context.Context, handle, instruction string) (backend.Result, error) {
	b.mu.RLock()
	system, ok := b.systems[handle]
	b.mu.RUnlock()
	if !ok {
		return backend.Result{}, retry.Permanent(fmt.Errorf("unknown handle %q", handle))
	}
	out, err := b.client.Complete(ctx, system, instruction)
	if err != nil {
		return backend.Result{}, err
	}
	return backend.Result{Output: strings.TrimSpace(out)}, nil
}

// SystemPrompt renders the agent persona for a branch.
func SystemPrompt(cfg backend.Config) string {
	var sb strings.Builder
	role := cfg.Role
	if role == "" {
		role = "software engineer"
	}
	fmt.Fprintf(&sb, "You are the %s agent %q on a team of cooperating agents.", role, cfg.Name)
	if len(cfg.Domains) > 0 {
		fmt.Fprintf(&sb, "\nFocus areas: %s.", strings.Join(cfg.Domains, ", "))
	}
	sb.WriteString("\nDo only your part of the work and report the result concisely.")
	if bg := strings.TrimSpace(cfg.Context); bg != "" {
		sb.WriteString("\n\nBackground:\n")
		sb.WriteString(bg)
	}
	return sb.String()
}
