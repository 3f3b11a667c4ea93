package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
	"github.com/oncallai/clinical-assistant/internal/infrastructure/vecindex"
)

type keywordLLMFake struct {
	reply string
	err   error
	calls int
}

func (f *keywordLLMFake) Complete(context.Context, string, float32, int) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func hospitalFixture(t *testing.T) ([]vecindex.TagRecord, *vecindex.Index) {
	t.Helper()
	tags := []vecindex.TagRecord{
		{Tag: "cardiology", Embedding: []float32{1, 0}, Documents: []string{"cardio-doc"}},
		{Tag: "obstetrics", Embedding: []float32{0, 1}, Documents: []string{"ob-doc"}},
	}
	chunks := vecindex.New(2)
	items := []vecindex.Item{
		{ID: "c-1", DocumentID: "cardio-doc", Text: "local PCI activation pathway", Vector: []float32{1, 0.1}},
		{ID: "c-2", DocumentID: "cardio-doc", Text: "cath lab contact numbers", Vector: []float32{1, 0.3}},
		{ID: "o-1", DocumentID: "ob-doc", Text: "labour ward escalation", Vector: []float32{1, 0}},
	}
	for _, item := range items {
		if err := chunks.Add(item); err != nil {
			t.Fatalf("Add(%s) error = %v", item.ID, err)
		}
	}
	return tags, chunks
}

func TestTwoStageSearchRestrictsToTaggedDocuments(t *testing.T) {
	tags, chunks := hospitalFixture(t)
	embedder := &embedderFake{fixed: []float32{1, 0}}
	engine := NewTwoStageEngine(embedder, nil, tags, chunks, HospitalConfig{})

	results, err := engine.Search(context.Background(), "chest pain pathway", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected chunks from the matching tag's documents")
	}
	for _, r := range results {
		if r.DocumentID != "cardio-doc" {
			// o-1 is the closest chunk overall but its document carries only
			// the obstetrics tag, so stage one must exclude it.
			t.Fatalf("chunk from unfiltered document leaked: %+v", r)
		}
		if r.Corpus != domain.CorpusHospital {
			t.Fatalf("hospital results must be corpus-tagged: %+v", r)
		}
	}
}

func TestTwoStageSearchNoTagAboveFloor(t *testing.T) {
	tags, chunks := hospitalFixture(t)
	embedder := &embedderFake{fixed: []float32{-1, 0}}
	engine := NewTwoStageEngine(embedder, nil, tags, chunks, HospitalConfig{})

	results, err := engine.Search(context.Background(), "totally unrelated", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("no surviving tag means no chunk search, got %+v", results)
	}
}

func TestTwoStageSearchRaisedFloorIsMonotonic(t *testing.T) {
	tags, chunks := hospitalFixture(t)
	embedder := &embedderFake{fixed: []float32{1, 0.2}}

	loose := NewTwoStageEngine(embedder, nil, tags, chunks, HospitalConfig{MinChunkSimilarity: 0.3})
	strict := NewTwoStageEngine(embedder, nil, tags, chunks, HospitalConfig{MinChunkSimilarity: 0.99})

	looseResults, err := loose.Search(context.Background(), "chest pain", 5)
	if err != nil {
		t.Fatalf("loose Search() error = %v", err)
	}
	strictResults, err := strict.Search(context.Background(), "chest pain", 5)
	if err != nil {
		t.Fatalf("strict Search() error = %v", err)
	}
	if len(strictResults) > len(looseResults) {
		t.Fatalf("raising the floor can only shrink results: %d > %d", len(strictResults), len(looseResults))
	}
	looseIDs := map[string]struct{}{}
	for _, r := range looseResults {
		looseIDs[r.ChunkID] = struct{}{}
	}
	for _, r := range strictResults {
		if _, ok := looseIDs[r.ChunkID]; !ok {
			t.Fatalf("strict results must be a subset, %s not in loose set", r.ChunkID)
		}
	}
}

func TestTwoStageSearchKeywordExtraction(t *testing.T) {
	tags, chunks := hospitalFixture(t)
	embedder := &embedderFake{fixed: []float32{1, 0}}
	llm := &keywordLLMFake{reply: "chest pain PCI"}
	engine := NewTwoStageEngine(embedder, llm, tags, chunks, HospitalConfig{})

	if _, err := engine.Search(context.Background(), "my patient has crushing chest pain, what is our PCI pathway?", 5); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if llm.calls != 1 {
		t.Fatalf("expected one keyword extraction call, got %d", llm.calls)
	}
	if embedder.texts[0] != "chest pain PCI" {
		t.Fatalf("extracted keywords must drive the embedding, got %q", embedder.texts[0])
	}
}

func TestTwoStageSearchKeywordExtractionFallsBackToQuery(t *testing.T) {
	tags, chunks := hospitalFixture(t)
	embedder := &embedderFake{fixed: []float32{1, 0}}
	llm := &keywordLLMFake{err: errors.New("model offline")}
	engine := NewTwoStageEngine(embedder, llm, tags, chunks, HospitalConfig{})

	if _, err := engine.Search(context.Background(), "chest pain pathway", 5); err != nil {
		t.Fatalf("extraction failure must not fail the search: %v", err)
	}
	if embedder.texts[0] != "chest pain pathway" {
		t.Fatalf("expected raw query fallback, got %q", embedder.texts[0])
	}
}

func TestTwoStageSearchEmptyQuery(t *testing.T) {
	tags, chunks := hospitalFixture(t)
	engine := NewTwoStageEngine(&embedderFake{}, nil, tags, chunks, HospitalConfig{})

	if _, err := engine.Search(context.Background(), " ", 5); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestTwoStageSearchTrimsToK(t *testing.T) {
	tags, chunks := hospitalFixture(t)
	engine := NewTwoStageEngine(&embedderFake{fixed: []float32{1, 0}}, nil, tags, chunks, HospitalConfig{
		ChunkTopP: 1.0,
	})

	results, err := engine.Search(context.Background(), "chest pain", 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) > 1 {
		t.Fatalf("k must cap the result list, got %d", len(results))
	}
}
