package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
	"github.com/oncallai/clinical-assistant/internal/core/ports"
)

type pipelineGuidelineFake struct {
	results        []domain.RetrievalResult
	err            error
	searchCalls    int
	emergencyKW    string
	treatmentKW    string
	slidingResults []domain.RetrievalResult
}

func (f *pipelineGuidelineFake) Search(_ context.Context, emergencyKW, treatmentKW string, _ int) ([]domain.RetrievalResult, error) {
	f.searchCalls++
	f.emergencyKW = emergencyKW
	f.treatmentKW = treatmentKW
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *pipelineGuidelineFake) SearchSlidingWindow(context.Context, string, int) ([]domain.RetrievalResult, error) {
	return f.slidingResults, nil
}

type hospitalFake struct {
	results []domain.RetrievalResult
	err     error
	calls   int
}

func (f *hospitalFake) Search(context.Context, string, int) ([]domain.RetrievalResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func newTestService(llm *completionFake, guidelines *pipelineGuidelineFake, hospital *hospitalFake) *PipelineService {
	resolver := NewConditionResolver(resolverTable(), llm, guidelines, ResolverConfig{})
	generator := NewAdviceGenerator(llm, GenerationConfig{})
	var hospitalPort ports.HospitalSearcher
	if hospital != nil {
		hospitalPort = hospital
	}
	return NewPipelineService(resolver, guidelines, hospitalPort, generator, 5)
}

func TestAdviseFullPipeline(t *testing.T) {
	guidelines := &pipelineGuidelineFake{
		results: []domain.RetrievalResult{
			{ChunkID: "e-1", Text: "give aspirin", Corpus: domain.CorpusEmergency, Distance: 0.3},
			{ChunkID: "t-1", Text: "start heparin", Corpus: domain.CorpusTreatment, Distance: 0.2},
		},
	}
	hospital := &hospitalFake{
		results: []domain.RetrievalResult{
			{ChunkID: "h-1", Text: "local PCI pathway", Corpus: domain.CorpusHospital, Distance: 0.4},
		},
	}
	llm := &completionFake{replies: []string{"Follow the MI protocol: aspirin, nitroglycerin, urgent PCI."}}
	svc := newTestService(llm, guidelines, hospital)

	resp, err := svc.Advise(context.Background(), "how to treat acute myocardial infarction", "")
	if err != nil {
		t.Fatalf("Advise() error = %v", err)
	}
	if resp.Match.Level != domain.LevelPredefined {
		t.Fatalf("expected level 1 resolution, got %s", resp.Match.Level)
	}
	if guidelines.emergencyKW != "MI|chest pain|cardiac arrest" {
		t.Fatalf("retrieval must use the table keywords, got %q", guidelines.emergencyKW)
	}
	if len(resp.Guidelines) != 3 {
		t.Fatalf("expected merged guideline list, got %d", len(resp.Guidelines))
	}
	// Condition-matched queries rank emergency first, hospital block last.
	if resp.Guidelines[0].Corpus != domain.CorpusEmergency || resp.Guidelines[2].Corpus != domain.CorpusHospital {
		t.Fatalf("unexpected ranking: %+v", resp.Guidelines)
	}
	if resp.Advice.Confidence <= 0 || resp.Advice.Text == "" {
		t.Fatalf("expected generated advice, got %+v", resp.Advice)
	}
	if resp.Advice.Intention != domain.IntentionTreatment {
		t.Fatalf("intention should be detected from the query, got %s", resp.Advice.Intention)
	}
}

func TestAdviseRejectedQuerySkipsRetrieval(t *testing.T) {
	guidelines := &pipelineGuidelineFake{}
	hospital := &hospitalFake{}
	llm := &completionFake{replies: []string{"no condition", "NON_MEDICAL"}}
	svc := newTestService(llm, guidelines, hospital)

	resp, err := svc.Advise(context.Background(), "best pasta recipe", "")
	if err != nil {
		t.Fatalf("Advise() error = %v", err)
	}
	if !resp.Match.Rejected() {
		t.Fatalf("expected rejection, got level %s", resp.Match.Level)
	}
	if guidelines.searchCalls != 0 || hospital.calls != 0 {
		t.Fatalf("rejected queries must not trigger retrieval: %d/%d calls", guidelines.searchCalls, hospital.calls)
	}
	if len(resp.Guidelines) != 0 {
		t.Fatalf("rejected response carries no guidelines")
	}
	if resp.Advice.Confidence != 0 || resp.Advice.Text != resp.Match.Message {
		t.Fatalf("rejected advice must echo the rejection message: %+v", resp.Advice)
	}
}

func TestAdviseHospitalFailureIsAbsorbed(t *testing.T) {
	guidelines := &pipelineGuidelineFake{
		results: []domain.RetrievalResult{
			{ChunkID: "e-1", Text: "give aspirin", Corpus: domain.CorpusEmergency, Distance: 0.3},
		},
	}
	hospital := &hospitalFake{err: errors.New("hospital corpus offline")}
	llm := &completionFake{replies: []string{"Advice text."}}
	svc := newTestService(llm, guidelines, hospital)

	resp, err := svc.Advise(context.Background(), "acute stroke care", domain.IntentionTreatment)
	if err != nil {
		t.Fatalf("hospital failures must not surface: %v", err)
	}
	if len(resp.Guidelines) != 1 {
		t.Fatalf("general results still ground the answer, got %d", len(resp.Guidelines))
	}
}

func TestAdviseGuidelineFailureDegradesToUngrounded(t *testing.T) {
	guidelines := &pipelineGuidelineFake{err: errors.New("embedding endpoint down")}
	llm := &completionFake{replies: []string{"General guidance without sources."}}
	svc := newTestService(llm, guidelines, nil)

	resp, err := svc.Advise(context.Background(), "acute stroke care", domain.IntentionTreatment)
	if err != nil {
		t.Fatalf("retrieval failures must not surface: %v", err)
	}
	if len(resp.Guidelines) != 0 {
		t.Fatalf("expected no guidelines, got %d", len(resp.Guidelines))
	}
	if resp.Advice.Confidence >= 0.5 {
		t.Fatalf("ungrounded advice should score low, got %v", resp.Advice.Confidence)
	}
}

func TestAdviseIntentionOverride(t *testing.T) {
	guidelines := &pipelineGuidelineFake{}
	llm := &completionFake{replies: []string{"Diagnostic approach."}}
	svc := newTestService(llm, guidelines, nil)

	resp, err := svc.Advise(context.Background(), "how to treat acute stroke", domain.IntentionDiagnosis)
	if err != nil {
		t.Fatalf("Advise() error = %v", err)
	}
	if resp.Advice.Intention != domain.IntentionDiagnosis {
		t.Fatalf("explicit intention must override detection, got %s", resp.Advice.Intention)
	}
}

func TestResolveDelegates(t *testing.T) {
	svc := newTestService(&completionFake{}, &pipelineGuidelineFake{}, nil)

	match, err := svc.Resolve(context.Background(), "acute stroke management")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if match.Level != domain.LevelPredefined {
		t.Fatalf("got level %s", match.Level)
	}
}

func TestAdviseReportsRetrievalStats(t *testing.T) {
	guidelines := &pipelineGuidelineFake{
		results: []domain.RetrievalResult{
			{ChunkID: "e-1", Text: "give aspirin", Corpus: domain.CorpusEmergency, Distance: 0.3},
			{ChunkID: "e-1", Text: "give aspirin", Corpus: domain.CorpusEmergency, Distance: 0.35},
			{ChunkID: "t-1", Text: "start heparin", Corpus: domain.CorpusTreatment, Distance: 0.2},
		},
	}
	hospital := &hospitalFake{
		results: []domain.RetrievalResult{
			{ChunkID: "h-1", Text: "local PCI pathway", Corpus: domain.CorpusHospital, Distance: 0.4},
		},
	}
	llm := &completionFake{replies: []string{"Advice text."}}
	svc := newTestService(llm, guidelines, hospital)

	resp, err := svc.Advise(context.Background(), "how to treat acute myocardial infarction", "")
	if err != nil {
		t.Fatalf("Advise() error = %v", err)
	}
	if resp.Stats.EmergencyChunks != 1 || resp.Stats.TreatmentChunks != 1 || resp.Stats.HospitalChunks != 1 {
		t.Fatalf("unexpected per-corpus counts: %+v", resp.Stats)
	}
	// The repeated chunk id collapses during deduplication.
	if resp.Stats.DuplicatesRemoved != 1 {
		t.Fatalf("duplicate not counted: %+v", resp.Stats)
	}
}
