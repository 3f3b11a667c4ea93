package usecase

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
)

// captureLogs redirects the default logger into a buffer for one test.
func captureLogs(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func resolverTable() *domain.ConditionTable {
	return domain.NewConditionTable([]domain.ConditionRecord{
		{Condition: "acute myocardial infarction", Emergency: "MI|chest pain|cardiac arrest", Treatment: "aspirin|nitroglycerin|thrombolytic|PCI"},
		{Condition: "acute stroke", Emergency: "stroke|neurological deficit|sudden weakness", Treatment: "tPA|thrombolysis|stroke unit care"},
		{Condition: "acute ischemic stroke", Emergency: "ischemic stroke|neurological deficit", Treatment: "tPA|stroke unit management"},
	})
}

// completionFake replies with scripted responses in call order.
type completionFake struct {
	replies []string
	errs    []error
	prompts []string
}

func (f *completionFake) Complete(_ context.Context, prompt string, _ float32, _ int) (string, error) {
	call := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	if call < len(f.errs) && f.errs[call] != nil {
		return "", f.errs[call]
	}
	if call < len(f.replies) {
		return f.replies[call], nil
	}
	return "", errors.New("unexpected completion call")
}

type guidelineFake struct {
	slidingResults []domain.RetrievalResult
	slidingErr     error
	slidingQueries []string
	searchCalls    int
}

func (f *guidelineFake) Search(context.Context, string, string, int) ([]domain.RetrievalResult, error) {
	f.searchCalls++
	return nil, nil
}

func (f *guidelineFake) SearchSlidingWindow(_ context.Context, query string, _ int) ([]domain.RetrievalResult, error) {
	f.slidingQueries = append(f.slidingQueries, query)
	if f.slidingErr != nil {
		return nil, f.slidingErr
	}
	return f.slidingResults, nil
}

func TestResolvePredefinedMatchSkipsModel(t *testing.T) {
	llm := &completionFake{}
	resolver := NewConditionResolver(resolverTable(), llm, &guidelineFake{}, ResolverConfig{})

	match, err := resolver.Resolve(context.Background(), "how to treat acute myocardial infarction")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if match.Level != domain.LevelPredefined || match.Source != domain.SourcePredefined {
		t.Fatalf("expected level 1 predefined, got level %s source %s", match.Level, match.Source)
	}
	if match.EmergencyKeywords != "MI|chest pain|cardiac arrest" {
		t.Fatalf("unexpected emergency keywords: %q", match.EmergencyKeywords)
	}
	if match.TreatmentKeywords != "aspirin|nitroglycerin|thrombolytic|PCI" {
		t.Fatalf("unexpected treatment keywords: %q", match.TreatmentKeywords)
	}
	if len(llm.prompts) != 0 {
		t.Fatalf("predefined match must not call the model, got %d calls", len(llm.prompts))
	}
}

func TestResolvePredefinedIsDeterministic(t *testing.T) {
	resolver := NewConditionResolver(resolverTable(), &completionFake{}, &guidelineFake{}, ResolverConfig{})

	first, err := resolver.Resolve(context.Background(), "acute stroke management")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	second, err := resolver.Resolve(context.Background(), "acute stroke management")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	first.Elapsed, second.Elapsed = 0, 0
	if first != second {
		t.Fatalf("same query must resolve identically: %+v vs %+v", first, second)
	}
}

func TestResolveLLMExtractionResolvesThroughTable(t *testing.T) {
	llm := &completionFake{replies: []string{"Acute Stroke"}}
	resolver := NewConditionResolver(resolverTable(), llm, &guidelineFake{}, ResolverConfig{})

	match, err := resolver.Resolve(context.Background(), "sudden weakness on one side, slurred speech")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if match.Level != domain.LevelLLMExtraction || match.Source != domain.SourceLLM {
		t.Fatalf("expected level 2 llm, got level %s source %s", match.Level, match.Source)
	}
	// Keywords always come from the table, never from model output.
	if match.TreatmentKeywords != "tPA|thrombolysis|stroke unit care" {
		t.Fatalf("unexpected treatment keywords: %q", match.TreatmentKeywords)
	}
	if len(llm.prompts) != 1 {
		t.Fatalf("expected one completion call, got %d", len(llm.prompts))
	}
}

func TestResolveSemanticFallbackInfersCondition(t *testing.T) {
	llm := &completionFake{replies: []string{"no condition here"}}
	guidelines := &guidelineFake{
		slidingResults: []domain.RetrievalResult{
			{ChunkID: "w-1", Text: "Protocol for acute ischemic stroke with neurological deficit.", Corpus: domain.CorpusEmergency, Distance: 0.4},
		},
	}
	resolver := NewConditionResolver(resolverTable(), llm, guidelines, ResolverConfig{})

	match, err := resolver.Resolve(context.Background(), "sudden facial droop with arm drift")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if match.Level != domain.LevelSemantic || match.Source != domain.SourceSemantic {
		t.Fatalf("expected level 3 semantic, got level %s source %s", match.Level, match.Source)
	}
	if match.Condition != "acute ischemic stroke" {
		t.Fatalf("got condition %q", match.Condition)
	}
}

func TestResolveValidationRejectsNonMedical(t *testing.T) {
	llm := &completionFake{replies: []string{"not a condition", "NON_MEDICAL"}}
	resolver := NewConditionResolver(resolverTable(), llm, &guidelineFake{}, ResolverConfig{})

	match, err := resolver.Resolve(context.Background(), "how to cook pasta")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !match.Rejected() {
		t.Fatalf("expected rejection, got level %s", match.Level)
	}
	if match.Message == "" || !strings.Contains(match.Message, "rephrase") {
		t.Fatalf("rejection must carry a rephrase suggestion, got %q", match.Message)
	}
	if match.Condition != "" || match.EmergencyKeywords != "" {
		t.Fatalf("rejected match must carry no retrieval basis")
	}
}

func TestResolveValidationMedicalFallsToGeneric(t *testing.T) {
	llm := &completionFake{replies: []string{"not a condition", "MEDICAL"}}
	guidelines := &guidelineFake{}
	resolver := NewConditionResolver(resolverTable(), llm, guidelines, ResolverConfig{})

	match, err := resolver.Resolve(context.Background(), "rare mitochondrial disorder presentation")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if match.Level != domain.LevelGeneric || match.Source != domain.SourceGeneric {
		t.Fatalf("expected level 5 generic, got level %s source %s", match.Level, match.Source)
	}
	if match.Condition != "generic medical query" {
		t.Fatalf("got condition %q", match.Condition)
	}
	if match.EmergencyKeywords != "medical|emergency" || match.TreatmentKeywords != "treatment|management" {
		t.Fatalf("generic keywords are fixed, got %q / %q", match.EmergencyKeywords, match.TreatmentKeywords)
	}
	// The generic probe appends a treatment hint to the raw query.
	probe := guidelines.slidingQueries[len(guidelines.slidingQueries)-1]
	if !strings.HasSuffix(probe, " medical treatment") {
		t.Fatalf("generic probe query = %q", probe)
	}
}

func TestResolveAmbiguousValidationDefaultsToGeneric(t *testing.T) {
	llm := &completionFake{replies: []string{"nothing", "I think it might be medical"}}
	resolver := NewConditionResolver(resolverTable(), llm, &guidelineFake{}, ResolverConfig{})

	match, err := resolver.Resolve(context.Background(), "xyzzy treatment question")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if match.Level != domain.LevelGeneric {
		t.Fatalf("ambiguous verdict should fall through to generic, got %s", match.Level)
	}
}

func TestResolveAmbiguousValidationRejectPolicy(t *testing.T) {
	llm := &completionFake{replies: []string{"nothing", "maybe?"}}
	resolver := NewConditionResolver(resolverTable(), llm, &guidelineFake{}, ResolverConfig{
		RejectAmbiguousValidation: true,
	})

	match, err := resolver.Resolve(context.Background(), "xyzzy question")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !match.Rejected() {
		t.Fatalf("reject policy should reject ambiguous verdicts, got level %s", match.Level)
	}
}

func TestResolveModelOutageCascadesToGeneric(t *testing.T) {
	outage := errors.New("connection refused")
	llm := &completionFake{errs: []error{outage, outage}, replies: []string{"", ""}}
	guidelines := &guidelineFake{slidingErr: errors.New("embed failed")}
	resolver := NewConditionResolver(resolverTable(), llm, guidelines, ResolverConfig{})

	match, err := resolver.Resolve(context.Background(), "obscure complaint")
	if err != nil {
		t.Fatalf("outages must not surface, got %v", err)
	}
	if match.Level != domain.LevelGeneric {
		t.Fatalf("expected generic fallback, got level %s", match.Level)
	}
}

func TestResolveEmptyQuery(t *testing.T) {
	resolver := NewConditionResolver(resolverTable(), &completionFake{}, &guidelineFake{}, ResolverConfig{})

	if _, err := resolver.Resolve(context.Background(), "   "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestResolveCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resolver := NewConditionResolver(resolverTable(), &completionFake{}, &guidelineFake{}, ResolverConfig{})

	if _, err := resolver.Resolve(ctx, "acute stroke"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParseValidationVerdict(t *testing.T) {
	cases := map[string]validationVerdict{
		"MEDICAL":          verdictMedical,
		" medical.\n":      verdictMedical,
		"NON_MEDICAL":      verdictNonMedical,
		"non-medical":      verdictNonMedical,
		"NON_MEDICAL!":     verdictNonMedical,
		"It is medical":    verdictAmbiguous,
		"":                 verdictAmbiguous,
		"MEDICAL ADVICE:":  verdictAmbiguous,
		"NOT SURE, SORRY.": verdictAmbiguous,
	}
	for input, want := range cases {
		if got := parseValidationVerdict(input); got != want {
			t.Fatalf("parseValidationVerdict(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestInferConditionKeywordCooccurrence(t *testing.T) {
	table := resolverTable()

	record, score, ok := inferCondition(table, "patient reports chest pain after cardiac arrest, suspect MI")
	if !ok {
		t.Fatalf("expected an inference")
	}
	if record.Condition != "acute myocardial infarction" {
		t.Fatalf("got %q", record.Condition)
	}
	if score != 1.0 {
		t.Fatalf("all three emergency keywords present, score = %v", score)
	}

	if _, _, ok := inferCondition(table, "completely unrelated text"); ok {
		t.Fatalf("expected no inference for unrelated text")
	}
}

func TestResolveLogsLevelFailureSentinels(t *testing.T) {
	buf := captureLogs(t, slog.LevelDebug)

	llm := &completionFake{replies: []string{"nothing recognizable", "cannot tell"}}
	resolver := NewConditionResolver(resolverTable(), llm, &guidelineFake{}, ResolverConfig{})

	match, err := resolver.Resolve(context.Background(), "strange complaint")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if match.Level != domain.LevelGeneric {
		t.Fatalf("got level %s", match.Level)
	}

	logs := buf.String()
	if !strings.Contains(logs, domain.ErrExtractionFailed.Error()) {
		t.Fatalf("extraction failure missing from logs:\n%s", logs)
	}
	if !strings.Contains(logs, domain.ErrValidationAmbiguous.Error()) {
		t.Fatalf("ambiguous validation missing from logs:\n%s", logs)
	}
}

func TestResolveLogsRejection(t *testing.T) {
	buf := captureLogs(t, slog.LevelInfo)

	llm := &completionFake{replies: []string{"no condition", "NON_MEDICAL"}}
	resolver := NewConditionResolver(resolverTable(), llm, &guidelineFake{}, ResolverConfig{})

	match, err := resolver.Resolve(context.Background(), "best pasta recipe")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !match.Rejected() {
		t.Fatalf("expected rejection, got level %s", match.Level)
	}
	if !strings.Contains(buf.String(), domain.ErrRejectedQuery.Error()) {
		t.Fatalf("rejection missing from logs:\n%s", buf.String())
	}
}
