package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrUnparseable is returned when a reply holds no usable evaluation.
var ErrUnparseable = errors.New("reply holds no usable evaluation")

// defaultConfidence is assumed when a reply omits its confidence.
const defaultConfidence = 0.5

// ParseEvaluation pulls a complexity evaluation out of a model reply. The
// reply may wrap the JSON object in prose or a code fence; numbers may come
// as strings and lists as comma-separated text. Unknown pattern or quality
// names are kept verbatim for the sanitizer to penalize. A reply without a
// JSON object or a tier is unparseable.
func ParseEvaluation(source, reply string) (*models.ComplexityEvaluation, error) {
	obj, ok := extractObject(reply)
	if !ok {
		return nil, fmt.Errorf("%w: no json object", ErrUnparseable)
	}
	root := gjson.Parse(obj)

	tier := first(root, "tier", "complexity", "complexity_tier")
	if tier.String() == "" {
		return nil, fmt.Errorf("%w: no tier", ErrUnparseable)
	}

	e := &models.ComplexityEvaluation{
		Source:     source,
		Tier:       models.Tier(strings.TrimSpace(tier.String())),
		AgentCount: int(first(root, "agent_count", "agents", "team_size").Int()),
		Roles:      stringList(first(root, "roles", "agent_roles")),
		Domains:    stringList(root.Get("domains")),
		Reasoning:  strings.TrimSpace(first(root, "reasoning", "rationale").String()),
	}

	if raw := first(root, "workflow_pattern", "pattern").String(); raw != "" {
		if p, err := models.ParsePattern(raw); err == nil {
			e.Pattern = p
		} else {
			e.Pattern = models.WorkflowPattern(raw)
		}
	}
	if raw := first(root, "quality_level", "quality").String(); raw != "" {
		if q, err := models.ParseQuality(raw); err == nil {
			e.Quality = q
		} else {
			e.Quality = models.QualityLevel(raw)
		}
	}

	if conf := root.Get("confidence"); conf.Exists() {
		e.Confidence = conf.Float()
	} else {
		e.Confidence = defaultConfidence
		e.RulesApplied = append(e.RulesApplied, "confidence missing")
	}
	return e, nil
}

// extractObject returns the outermost {...} span of s if it is valid JSON.
func extractObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	obj := s[start : end+1]
	if !gjson.Valid(obj) {
		return "", false
	}
	return obj, true
}

func first(root gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := root.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func stringList(r gjson.Result) []string {
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch {
	case r.IsArray():
		for _, item := range r.Array() {
			if item.IsObject() {
				add(item.Get("name").String())
				continue
			}
			add(item.String())
		}
	case r.Type == gjson.String:
		for _, part := range strings.Split(r.String(), ",") {
			add(part)
		}
	}
	return out
}
