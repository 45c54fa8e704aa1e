package orchestrator

import (
	"errors"
	"testing"

	"github.com/ShayCichocki/hive/pkg/models"
)

func request(role, domain, instruction string) models.AgentRequest {
	req := models.AgentRequest{Instruction: instruction, Compose: models.Compose{Role: role}}
	if domain != "" {
		req.Compose.Domains = []string{domain}
	}
	return req
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		role, domain string
		want         string
	}{
		{"backend", "api", "backend_api"},
		{"Backend Dev", "Web/API", "backend_dev_web_api"},
		{"tester", "", "tester"},
		{"", "", "agent"},
		{"  ", "database", "agent_database"},
		{"ops--", "--infra--", "ops_infra"},
	}
	for _, tt := range tests {
		if got := BaseName(tt.role, tt.domain); got != tt.want {
			t.Errorf("BaseName(%q, %q) = %q, want %q", tt.role, tt.domain, got, tt.want)
		}
	}
}

func TestArena_SuffixesCollidingNames(t *testing.T) {
	a := NewArena(DefaultNameRetries)
	want := []string{"backend_api", "backend_api_2", "backend_api_3"}
	for i, w := range want {
		b, err := a.Create(request("backend", "api", "build it"), "")
		if err != nil {
			t.Fatalf("Create #%d error = %v", i, err)
		}
		if b.Name != w {
			t.Errorf("Create #%d name = %q, want %q", i, b.Name, w)
		}
		if b.ID == "" {
			t.Errorf("Create #%d has empty ID", i)
		}
	}
	if a.Count() != 3 {
		t.Errorf("Count() = %d, want 3", a.Count())
	}
}

func TestArena_NameCollisionExhausted(t *testing.T) {
	a := NewArena(1)
	for i := 0; i < 2; i++ {
		if _, err := a.Create(request("backend", "api", "x"), ""); err != nil {
			t.Fatalf("Create #%d error = %v", i, err)
		}
	}
	_, err := a.Create(request("backend", "api", "x"), "")
	var exhausted *NameCollisionExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want *NameCollisionExhausted", err)
	}
	if exhausted.Base != "backend_api" || exhausted.Attempts != 2 {
		t.Errorf("got %+v", exhausted)
	}
	if a.Count() != 2 {
		t.Errorf("failed create should not insert, Count() = %d", a.Count())
	}
}

func TestArena_RemoveFreesName(t *testing.T) {
	a := NewArena(0)
	b, err := a.Create(request("frontend", "ui", "x"), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Create(request("frontend", "ui", "x"), ""); err == nil {
		t.Fatal("second create with zero retries should collide")
	}
	a.Remove(b.ID)
	if _, err := a.Create(request("frontend", "ui", "x"), ""); err != nil {
		t.Errorf("name should be free after Remove, got %v", err)
	}
}

func TestArena_CloneIsIndependent(t *testing.T) {
	a := NewArena(DefaultNameRetries)
	req := request("backend", "api", "build the endpoint")
	req.Compose.Domains = append(req.Compose.Domains, "database")
	req.Required = true
	src, err := a.Create(req, "shared background")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetHandle(src.ID, "h-1"); err != nil {
		t.Fatal(err)
	}

	clone, err := a.Clone(src.ID)
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	if clone.ID == src.ID {
		t.Error("clone must get a new ID")
	}
	if clone.Name != "backend_api_2" {
		t.Errorf("clone name = %q", clone.Name)
	}
	if clone.ClonedFrom != src.ID {
		t.Errorf("ClonedFrom = %q, want %q", clone.ClonedFrom, src.ID)
	}
	if clone.Handle != "" {
		t.Errorf("clone should not inherit handle, got %q", clone.Handle)
	}
	if clone.Instruction != src.Instruction || clone.Context != "shared background" || !clone.Required {
		t.Errorf("clone lost configuration: %+v", clone)
	}

	clone.Domains[0] = "mutated"
	got, _ := a.Get(src.ID)
	if got.Domains[0] != "api" {
		t.Errorf("mutating a clone leaked into the source: %v", got.Domains)
	}
	stored, _ := a.Get(clone.ID)
	if stored.Domains[0] != "api" {
		t.Errorf("mutating a returned copy leaked into the arena: %v", stored.Domains)
	}
}

func TestArena_CloneUnknown(t *testing.T) {
	a := NewArena(DefaultNameRetries)
	if _, err := a.Clone("missing"); !errors.Is(err, ErrUnknownBranch) {
		t.Errorf("Clone(missing) error = %v, want ErrUnknownBranch", err)
	}
}

func TestArena_ContextJoinsBackground(t *testing.T) {
	a := NewArena(DefaultNameRetries)
	req := request("backend", "", "x")
	req.Compose.Context = "  own context "
	b, err := a.Create(req, "background")
	if err != nil {
		t.Fatal(err)
	}
	if b.Context != "background\n\nown context" {
		t.Errorf("Context = %q", b.Context)
	}
}
