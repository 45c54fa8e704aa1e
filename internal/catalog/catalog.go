// Package catalog holds the role and domain catalogue used to compose agent
// teams. Each entry carries a keyword set for lexical scoring and an explicit
// order used to break score ties.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/hive/internal/textsim"
	"github.com/ShayCichocki/hive/pkg/models"
)

// GeneralDomain is selected when no domain scores above zero.
const GeneralDomain = "general"

// Entry is a role or domain in the catalogue.
type Entry struct {
	Name        string   `yaml:"name"`
	Order       int      `yaml:"order"`
	Description string   `yaml:"description,omitempty"`
	Keywords    []string `yaml:"keywords"`

	set textsim.Set
}

// KeywordSet returns the entry's keywords as a set.
func (e *Entry) KeywordSet() textsim.Set {
	if e.set == nil {
		return textsim.NewSet(e.Keywords...)
	}
	return e.set
}

// Catalog is an ordered collection of roles and domains.
type Catalog struct {
	Roles   []Entry `yaml:"roles"`
	Domains []Entry `yaml:"domains"`
}

// Scored is an entry name with its relevance score.
type Scored struct {
	Name  string
	Score float64
	Order int
}

var defaultRoles = []Entry{
	{Name: "architect", Order: 1, Description: "system design and decomposition",
		Keywords: []string{"design", "architecture", "architect", "system", "distributed", "protocol", "redesign", "scalable", "structure", "plan", "consensus"}},
	{Name: "backend", Order: 2, Description: "server side implementation",
		Keywords: []string{"implement", "backend", "api", "server", "endpoint", "service", "handler", "logic", "protocol", "build", "database"}},
	{Name: "frontend", Order: 3, Description: "user interface work",
		Keywords: []string{"frontend", "react", "vue", "css", "html", "page", "component", "button", "layout", "form", "dashboard"}},
	{Name: "security", Order: 4, Description: "threat modelling and hardening",
		Keywords: []string{"security", "auth", "authentication", "authorization", "encrypt", "vulnerability", "byzantine", "attack", "token", "permission"}},
	{Name: "tester", Order: 5, Description: "test design and verification",
		Keywords: []string{"test", "tests", "testing", "verify", "coverage", "fault", "regression", "validate", "benchmark", "tolerance"}},
	{Name: "devops", Order: 6, Description: "deployment and infrastructure",
		Keywords: []string{"deploy", "deployment", "docker", "kubernetes", "pipeline", "infra", "infrastructure", "terraform", "monitoring", "cluster"}},
	{Name: "data", Order: 7, Description: "data modelling and pipelines",
		Keywords: []string{"data", "database", "schema", "migration", "sql", "etl", "query", "index", "analytics", "storage"}},
	{Name: "reviewer", Order: 8, Description: "code review and quality gate",
		Keywords: []string{"review", "refactor", "cleanup", "quality", "audit", "lint", "improve", "correctness"}},
	{Name: "researcher", Order: 9, Description: "investigation and prior art",
		Keywords: []string{"research", "investigate", "analyze", "compare", "evaluate", "explore", "find", "search", "algorithm"}},
	{Name: "documenter", Order: 10, Description: "documentation and prose",
		Keywords: []string{"docs", "documentation", "readme", "typo", "comment", "guide", "tutorial", "changelog", "spelling", "wording"}},
}

var defaultDomains = []Entry{
	{Name: "distributed_systems", Order: 1,
		Keywords: []string{"distributed", "consensus", "protocol", "byzantine", "fault", "tolerance", "replication", "raft", "paxos", "cluster", "partition", "leader", "quorum"}},
	{Name: "security", Order: 2,
		Keywords: []string{"security", "auth", "authentication", "oauth", "jwt", "encryption", "crypto", "vulnerability", "permission", "secret"}},
	{Name: "api", Order: 3,
		Keywords: []string{"api", "rest", "grpc", "endpoint", "graphql", "http", "webhook", "client"}},
	{Name: "database", Order: 4,
		Keywords: []string{"database", "sql", "schema", "migration", "postgres", "mysql", "sqlite", "query", "index", "redis"}},
	{Name: "web", Order: 5,
		Keywords: []string{"web", "frontend", "react", "css", "html", "browser", "page", "ui", "component"}},
	{Name: "infrastructure", Order: 6,
		Keywords: []string{"infra", "infrastructure", "deploy", "docker", "kubernetes", "terraform", "cloud", "aws", "ci", "pipeline"}},
	{Name: "testing", Order: 7,
		Keywords: []string{"test", "tests", "testing", "coverage", "unit", "integration", "e2e", "benchmark", "fuzz"}},
	{Name: "documentation", Order: 8,
		Keywords: []string{"docs", "documentation", "readme", "typo", "comment", "guide", "markdown", "changelog"}},
	{Name: "data", Order: 9,
		Keywords: []string{"data", "etl", "analytics", "pipeline", "stream", "kafka", "warehouse", "ml", "model"}},
	{Name: GeneralDomain, Order: 100,
		Keywords: []string{"general"}},
}

// Default returns a fresh copy of the built-in catalogue.
func Default() *Catalog {
	c := &Catalog{
		Roles:   cloneEntries(defaultRoles),
		Domains: cloneEntries(defaultDomains),
	}
	c.sort()
	return c
}

func cloneEntries(src []Entry) []Entry {
	out := make([]Entry, len(src))
	for i, e := range src {
		out[i] = Entry{
			Name:        e.Name,
			Order:       e.Order,
			Description: e.Description,
			Keywords:    append([]string(nil), e.Keywords...),
		}
	}
	return out
}

// Load reads a catalogue override file. Sections present in the file replace
// the built-in section; absent sections keep the defaults.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var file Catalog
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	c := Default()
	if len(file.Roles) > 0 {
		c.Roles = file.Roles
	}
	if len(file.Domains) > 0 {
		c.Domains = file.Domains
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	c.sort()
	return c, nil
}

// Validate checks names are unique and non-empty and every entry has keywords.
func (c *Catalog) Validate() error {
	check := func(kind string, entries []Entry) error {
		if len(entries) == 0 {
			return fmt.Errorf("no %ss defined", kind)
		}
		seen := make(map[string]bool, len(entries))
		for _, e := range entries {
			name := strings.TrimSpace(e.Name)
			if name == "" {
				return fmt.Errorf("%s with empty name", kind)
			}
			if seen[name] {
				return fmt.Errorf("duplicate %s %q", kind, name)
			}
			seen[name] = true
			if len(e.Keywords) == 0 {
				return fmt.Errorf("%s %q has no keywords", kind, name)
			}
		}
		return nil
	}
	if err := check("role", c.Roles); err != nil {
		return err
	}
	return check("domain", c.Domains)
}

// sort orders entries by Order, then by name for entries sharing an order,
// and precomputes keyword sets so scoring never writes to the catalogue.
func (c *Catalog) sort() {
	for i := range c.Roles {
		c.Roles[i].set = textsim.NewSet(c.Roles[i].Keywords...)
	}
	for i := range c.Domains {
		c.Domains[i].set = textsim.NewSet(c.Domains[i].Keywords...)
	}

	less := func(entries []Entry) func(i, j int) bool {
		return func(i, j int) bool {
			if entries[i].Order != entries[j].Order {
				return entries[i].Order < entries[j].Order
			}
			return entries[i].Name < entries[j].Name
		}
	}
	sort.SliceStable(c.Roles, less(c.Roles))
	sort.SliceStable(c.Domains, less(c.Domains))
}

// RoleNames returns role names in catalogue order.
func (c *Catalog) RoleNames() []string {
	names := make([]string, len(c.Roles))
	for i, r := range c.Roles {
		names[i] = r.Name
	}
	return names
}

// HasRole reports whether name is a known role.
func (c *Catalog) HasRole(name string) bool {
	for _, r := range c.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// HasDomain reports whether name is a known domain.
func (c *Catalog) HasDomain(name string) bool {
	for _, d := range c.Domains {
		if d.Name == name {
			return true
		}
	}
	return false
}

// ScoreRoles scores every role against text, best first.
func (c *Catalog) ScoreRoles(text string) []Scored {
	return score(c.Roles, textsim.SetOf(text))
}

// ScoreDomains scores every domain against text, best first.
func (c *Catalog) ScoreDomains(text string) []Scored {
	return score(c.Domains, textsim.SetOf(text))
}

// score ranks entries by Jaccard similarity, ties broken by Order then name.
func score(entries []Entry, words textsim.Set) []Scored {
	out := make([]Scored, len(entries))
	for i := range entries {
		out[i] = Scored{
			Name:  entries[i].Name,
			Score: textsim.Jaccard(words, entries[i].KeywordSet()),
			Order: entries[i].Order,
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Matched returns the names of scored entries with a positive score.
func Matched(scored []Scored) []string {
	var names []string
	for _, s := range scored {
		if s.Score > 0 {
			names = append(names, s.Name)
		}
	}
	return names
}

// Select takes the positively scored names, best first, then pads with the
// next-ranked names until at least lo are chosen. At most hi are returned.
func Select(scored []Scored, lo, hi int) []string {
	if hi > len(scored) {
		hi = len(scored)
	}
	if lo > hi {
		lo = hi
	}
	out := make([]string, 0, hi)
	for _, s := range scored {
		if len(out) >= hi {
			break
		}
		if s.Score > 0 || len(out) < lo {
			out = append(out, s.Name)
		}
	}
	return out
}

// DomainCap is how many domains a team of the given tier may span.
func DomainCap(t models.Tier) int {
	switch t {
	case models.TierSimple:
		return 1
	case models.TierMedium:
		return 2
	case models.TierComplex:
		return 3
	case models.TierVeryComplex:
		return 4
	default:
		return 1
	}
}

// TopDomains returns up to limit matched domains, best first, or the general
// domain when nothing matched.
func (c *Catalog) TopDomains(text string, limit int) []string {
	matched := Matched(c.ScoreDomains(text))
	if len(matched) == 0 {
		return []string{GeneralDomain}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}
