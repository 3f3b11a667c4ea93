// Package vecindex provides the in-memory nearest-neighbor indices the
// retrieval engines search at query time. Indices are populated once from
// precomputed corpus files during startup and are read-only afterwards, so
// concurrent queries need no locking.
package vecindex

import (
	"fmt"
	"math"
	"sort"
)

// Item is one stored chunk with its precomputed embedding.
type Item struct {
	ID         string
	DocumentID string
	Text       string
	Vector     []float32
}

// Hit pairs an item with its angular distance to the query vector
// (smaller is more similar).
type Hit struct {
	Item     Item
	Distance float64
}

// Index is a flat angular-distance index over one corpus. All vectors share
// a fixed dimension for the lifetime of the index.
type Index struct {
	dim   int
	items []Item
}

func New(dim int) *Index {
	return &Index{dim: dim}
}

func (ix *Index) Dim() int { return ix.dim }
func (ix *Index) Len() int { return len(ix.items) }

// Add appends an item during startup loading. Not safe once queries run.
func (ix *Index) Add(item Item) error {
	if len(item.Vector) != ix.dim {
		return fmt.Errorf("vector dimension %d does not match index dimension %d", len(item.Vector), ix.dim)
	}
	ix.items = append(ix.items, item)
	return nil
}

// Search returns the k nearest items by angular distance.
func (ix *Index) Search(query []float32, k int) ([]Hit, error) {
	return ix.SearchFiltered(query, k, nil)
}

// SearchFiltered returns the k nearest items among those accepted by allow.
// A nil allow accepts everything.
func (ix *Index) SearchFiltered(query []float32, k int, allow func(Item) bool) ([]Hit, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), ix.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	hits := make([]Hit, 0, len(ix.items))
	for _, item := range ix.items {
		if allow != nil && !allow(item) {
			continue
		}
		hits = append(hits, Hit{Item: item, Distance: AngularDistance(query, item.Vector)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Item.ID < hits[j].Item.ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// AngularDistance is sqrt(2*(1-cos)), the metric the corpus indices were
// built with. Zero vectors are treated as maximally distant.
func AngularDistance(a, b []float32) float64 {
	cos := CosineSimilarity(a, b)
	d := 2 * (1 - cos)
	if d < 0 {
		d = 0
	}
	return math.Sqrt(d)
}

// CosineFromAngular converts an angular distance back to cosine similarity.
func CosineFromAngular(distance float64) float64 {
	return 1 - distance*distance/2
}

func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
