package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultNameRetries is how many suffixed names are tried after the base.
const DefaultNameRetries = 5

// Arena owns every branch of a session, keyed by ID. Callers only ever get
// copies; mutation goes through arena methods.
type Arena struct {
	// nameRetries bounds suffix attempts on name collision.
	nameRetries int
	// branches maps branch ID to the branch.
	branches map[string]*models.Branch
	// names maps branch name to branch ID.
	names map[string]string
	// order is branch IDs in creation order.
	order []string
	// mu protects all fields.
	mu sync.RWMutex
}

// NewArena creates an empty arena. A nameRetries below zero uses the default.
func NewArena(nameRetries int) *Arena {
	if nameRetries < 0 {
		nameRetries = DefaultNameRetries
	}
	return &Arena{
		nameRetries: nameRetries,
		branches:    make(map[string]*models.Branch),
		names:       make(map[string]string),
	}
}

// Create builds a branch from a plan request. background is prepended to
// the request's own composition context.
func (a *Arena) Create(req models.AgentRequest, background string) (models.Branch, error) {
	b := models.Branch{
		Role:         req.Compose.Role,
		Domains:      append([]string(nil), req.Compose.Domains...),
		Instruction:  req.Instruction,
		Context:      joinContext(background, req.Compose.Context),
		AnalysisHint: req.AnalysisHint,
		Required:     req.Required,
	}
	if len(b.Domains) > 0 {
		b.Domain = b.Domains[0]
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.insertLocked(b)
}

// Clone copies an existing branch under a new identity. The clone shares no
// mutable state with its source and starts without a backend handle.
func (a *Arena) Clone(id string) (models.Branch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	src, ok := a.branches[id]
	if !ok {
		return models.Branch{}, fmt.Errorf("%w: %s", ErrUnknownBranch, id)
	}
	b := src.Copy()
	b.ClonedFrom = src.ID
	b.Handle = ""
	return a.insertLocked(b)
}

func (a *Arena) insertLocked(b models.Branch) (models.Branch, error) {
	base := BaseName(b.Role, b.Domain)
	name := base
	for attempt := 0; ; attempt++ {
		if _, taken := a.names[name]; !taken {
			break
		}
		if attempt >= a.nameRetries {
			return models.Branch{}, &NameCollisionExhausted{Base: base, Attempts: attempt + 1}
		}
		name = fmt.Sprintf("%s_%d", base, attempt+2)
	}

	b.ID = uuid.NewString()
	b.Name = name
	stored := b.Copy()
	a.branches[b.ID] = &stored
	a.names[name] = b.ID
	a.order = append(a.order, b.ID)
	return b, nil
}

// Remove deletes branches, freeing their names.
func (a *Arena) Remove(ids ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		b, ok := a.branches[id]
		if !ok {
			continue
		}
		delete(a.names, b.Name)
		delete(a.branches, id)
		drop[id] = true
	}
	kept := a.order[:0]
	for _, id := range a.order {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	a.order = kept
}

// Get returns a copy of the branch with the given ID.
func (a *Arena) Get(id string) (models.Branch, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.branches[id]
	if !ok {
		return models.Branch{}, false
	}
	return b.Copy(), true
}

// SetHandle records the backend handle for a branch.
func (a *Arena) SetHandle(id, handle string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.branches[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBranch, id)
	}
	b.Handle = handle
	return nil
}

// Branches returns copies of all branches in creation order.
func (a *Arena) Branches() []models.Branch {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Branch, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.branches[id].Copy())
	}
	return out
}

// Names returns every branch name, sorted.
func (a *Arena) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.names))
	for n := range a.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of branches.
func (a *Arena) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.branches)
}

// BaseName renders the unsuffixed branch name for a role and domain, e.g.
// "backend_api". A missing role becomes "agent".
func BaseName(role, domain string) string {
	r := sanitizeName(role)
	if r == "" {
		r = "agent"
	}
	d := sanitizeName(domain)
	if d == "" {
		return r
	}
	return r + "_" + d
}

// sanitizeName lowercases s and folds runs of anything other than letters
// and digits into a single underscore.
func sanitizeName(s string) string {
	var sb strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			sb.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(sb.String(), "_")
}

func joinContext(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
