package api

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ShayCichocki/hive/pkg/models"
)

func TestParseEvaluation(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  models.ComplexityEvaluation
	}{
		{
			name:  "plain object",
			reply: `{"tier":"medium","agent_count":3,"roles":["backend","tester"],"domains":["api"],"workflow_pattern":"pipeline","quality_level":"high","confidence":0.8,"reasoning":"two layers"}`,
			want: models.ComplexityEvaluation{
				Source: "m", Tier: models.TierMedium, AgentCount: 3,
				Roles: []string{"backend", "tester"}, Domains: []string{"api"},
				Pattern: models.PatternPipeline, Quality: models.QualityHigh,
				Confidence: 0.8, Reasoning: "two layers",
			},
		},
		{
			name:  "fenced with prose and string numbers",
			reply: "Here is my rating:\n```json\n{\"tier\": \"complex\", \"agent_count\": \"5\", \"roles\": \"architect, backend\", \"confidence\": \"0.6\"}\n```\nThanks.",
			want: models.ComplexityEvaluation{
				Source: "m", Tier: models.TierComplex, AgentCount: 5,
				Roles: []string{"architect", "backend"}, Confidence: 0.6,
			},
		},
		{
			name:  "aliases and object roles",
			reply: `{"complexity":"simple","agents":1,"roles":[{"name":"documenter"}],"pattern":"parallel","quality":"draft","confidence":1}`,
			want: models.ComplexityEvaluation{
				Source: "m", Tier: models.TierSimple, AgentCount: 1,
				Roles: []string{"documenter"}, Pattern: models.PatternFanOut,
				Quality: models.QualityBasic, Confidence: 1,
			},
		},
		{
			name:  "unknown names kept for sanitizing",
			reply: `{"tier":"huge","workflow_pattern":"swarm","quality_level":"perfect","confidence":3}`,
			want: models.ComplexityEvaluation{
				Source: "m", Tier: "huge", Pattern: "swarm", Quality: "perfect", Confidence: 3,
			},
		},
		{
			name:  "missing confidence",
			reply: `{"tier":"medium"}`,
			want: models.ComplexityEvaluation{
				Source: "m", Tier: models.TierMedium, Confidence: defaultConfidence,
				RulesApplied: []string{"confidence missing"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEvaluation("m", tt.reply)
			if err != nil {
				t.Fatalf("ParseEvaluation() error = %v", err)
			}
			if !reflect.DeepEqual(*got, tt.want) {
				t.Errorf("ParseEvaluation() = %+v\nwant %+v", *got, tt.want)
			}
		})
	}
}

func TestParseEvaluation_Unparseable(t *testing.T) {
	for _, reply := range []string{
		"",
		"I think this is a medium task.",
		`{"tier": "medium",`,
		`{"agent_count": 3}`,
		`{"tier": ""}`,
	} {
		if _, err := ParseEvaluation("m", reply); !errors.Is(err, ErrUnparseable) {
			t.Errorf("ParseEvaluation(%q) error = %v, want ErrUnparseable", reply, err)
		}
	}
}
