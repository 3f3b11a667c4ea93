package vecindex

import (
	"encoding/json"
	"fmt"
	"os"
)

// chunkRecord is the on-disk form of one preprocessed guideline chunk.
type chunkRecord struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
}

// TagRecord associates a document tag embedding with the documents carrying
// that tag. Used by the two-stage hospital engine for candidate filtering.
type TagRecord struct {
	Tag       string    `json:"tag"`
	Embedding []float32 `json:"embedding"`
	Documents []string  `json:"documents"`
}

// LoadChunks builds an index of the given dimension from a JSON chunk file.
func LoadChunks(path string, dim int) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chunk file %s: %w", path, err)
	}

	var records []chunkRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse chunk file %s: %w", path, err)
	}

	ix := New(dim)
	for i, rec := range records {
		if rec.ID == "" {
			rec.ID = fmt.Sprintf("%s#%d", path, i)
		}
		item := Item{ID: rec.ID, DocumentID: rec.DocumentID, Text: rec.Text, Vector: rec.Embedding}
		if err := ix.Add(item); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", rec.ID, err)
		}
	}
	return ix, nil
}

// LoadTags parses a JSON tag file, validating every embedding against dim.
func LoadTags(path string, dim int) ([]TagRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tag file %s: %w", path, err)
	}

	var records []TagRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse tag file %s: %w", path, err)
	}
	for _, rec := range records {
		if len(rec.Embedding) != dim {
			return nil, fmt.Errorf("tag %q: embedding dimension %d does not match %d", rec.Tag, len(rec.Embedding), dim)
		}
	}
	return records, nil
}
