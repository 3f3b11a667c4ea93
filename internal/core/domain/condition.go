package domain

import (
	"sort"
	"strings"
	"time"
)

// ResolutionLevel identifies the stage of the fallback cascade that
// classified a query, or the terminal rejection state.
type ResolutionLevel int

const (
	LevelUnknown ResolutionLevel = iota
	LevelPredefined
	LevelLLMExtraction
	LevelSemantic
	LevelValidation
	LevelGeneric
)

// LevelRejected marks a query judged to be outside medical scope.
const LevelRejected ResolutionLevel = -1

func (l ResolutionLevel) String() string {
	switch l {
	case LevelPredefined:
		return "1"
	case LevelLLMExtraction:
		return "2"
	case LevelSemantic:
		return "3"
	case LevelValidation:
		return "4"
	case LevelGeneric:
		return "5"
	case LevelRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// MatchSource records which mechanism produced the condition match.
type MatchSource string

const (
	SourcePredefined MatchSource = "predefined"
	SourceLLM        MatchSource = "llm"
	SourceSemantic   MatchSource = "semantic"
	SourceGeneric    MatchSource = "generic"
)

// ConditionRecord maps a canonical condition name to its pipe-joined
// emergency and treatment keyword groups.
type ConditionRecord struct {
	Condition string `yaml:"condition" json:"condition"`
	Emergency string `yaml:"emergency" json:"emergency"`
	Treatment string `yaml:"treatment" json:"treatment"`
}

// Keywords splits a pipe-joined keyword group into its terms.
func Keywords(group string) []string {
	if strings.TrimSpace(group) == "" {
		return nil
	}
	parts := strings.Split(group, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ConditionTable is the canonical condition-to-keyword mapping, loaded once
// at startup and read-only afterwards.
type ConditionTable struct {
	records []ConditionRecord
	byName  map[string]ConditionRecord
}

func NewConditionTable(records []ConditionRecord) *ConditionTable {
	t := &ConditionTable{
		records: make([]ConditionRecord, 0, len(records)),
		byName:  make(map[string]ConditionRecord, len(records)),
	}
	for _, r := range records {
		name := strings.ToLower(strings.TrimSpace(r.Condition))
		if name == "" {
			continue
		}
		if _, exists := t.byName[name]; exists {
			continue
		}
		t.byName[name] = r
		t.records = append(t.records, r)
	}
	// Longest names first, so "acute ischemic stroke" wins over "acute stroke"
	// when both appear in a query.
	sort.SliceStable(t.records, func(i, j int) bool {
		return len(t.records[i].Condition) > len(t.records[j].Condition)
	})
	return t
}

func (t *ConditionTable) Len() int { return len(t.records) }

// Records returns the table contents ordered by descending name length.
func (t *ConditionTable) Records() []ConditionRecord {
	out := make([]ConditionRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Lookup finds a record by exact case-insensitive condition name.
func (t *ConditionTable) Lookup(condition string) (ConditionRecord, bool) {
	r, ok := t.byName[strings.ToLower(strings.TrimSpace(condition))]
	return r, ok
}

// MatchQuery returns the first record whose condition name appears as a
// substring of the query.
func (t *ConditionTable) MatchQuery(query string) (ConditionRecord, bool) {
	q := strings.ToLower(query)
	for _, r := range t.records {
		if strings.Contains(q, strings.ToLower(r.Condition)) {
			return r, true
		}
	}
	return ConditionRecord{}, false
}

// MatchText resolves free text produced by the extraction model against the
// table: a known condition name contained in the text wins, otherwise the
// first line of the text is tried as an exact name.
func (t *ConditionTable) MatchText(text string) (ConditionRecord, bool) {
	if r, ok := t.MatchQuery(text); ok {
		return r, true
	}
	firstLine, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return t.Lookup(firstLine)
}

// ConditionMatch is the resolver's terminal output for one query. It is
// created once and never mutated afterwards.
type ConditionMatch struct {
	Condition         string
	EmergencyKeywords string
	TreatmentKeywords string
	Level             ResolutionLevel
	Source            MatchSource
	Elapsed           time.Duration
	// Message carries the user-safe explanation for rejected queries.
	Message string
}

// Rejected reports whether the pipeline must short-circuit without retrieval.
func (m ConditionMatch) Rejected() bool { return m.Level == LevelRejected }
