package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
)

// Index ranks corpus documents against a query. With an Embedder it uses
// cosine similarity of embeddings, otherwise token overlap.
type Index struct {
	docs     []contractx.Document
	vectors  [][]float64
	tokens   []map[string]struct{}
	embedder Embedder
	minScore float64
}

var _ contractx.Retriever = (*Index)(nil)

// NewIndex embeds every document up front. embedder may be nil.
func NewIndex(ctx context.Context, docs []contractx.Document, embedder Embedder, minScore float64) (*Index, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyCorpus
	}

	idx := &Index{
		docs:     docs,
		tokens:   make([]map[string]struct{}, len(docs)),
		embedder: embedder,
		minScore: minScore,
	}
	for i, d := range docs {
		idx.tokens[i] = tokenize(d.Title + " " + d.Metadata["tags"] + " " + d.Content)
	}

	if embedder != nil {
		texts := make([]string, len(docs))
		for i, d := range docs {
			texts[i] = d.Title + "\n" + d.Content
		}
		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: embed corpus: %v", contractx.ErrRetrieval, err)
		}
		idx.vectors = vectors
	}
	return idx, nil
}

func (idx *Index) Len() int {
	return len(idx.docs)
}

func (idx *Index) Retrieve(ctx context.Context, query string, topK int) ([]contractx.Document, error) {
	query = strings.TrimSpace(query)
	if query == "" || topK <= 0 {
		return nil, nil
	}

	scores, err := idx.score(ctx, query)
	if err != nil {
		return nil, err
	}

	ranked := make([]contractx.Document, 0, len(idx.docs))
	for i, s := range scores {
		if s < idx.minScore || s == 0 {
			continue
		}
		doc := idx.docs[i]
		doc.Score = s
		ranked = append(ranked, doc)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

func (idx *Index) score(ctx context.Context, query string) ([]float64, error) {
	scores := make([]float64, len(idx.docs))

	if idx.embedder != nil {
		vecs, err := idx.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, fmt.Errorf("%w: embed query: %v", contractx.ErrRetrieval, err)
		}
		if len(vecs) != 1 {
			return nil, fmt.Errorf("%w: embed query returned %d vectors", contractx.ErrRetrieval, len(vecs))
		}
		for i, v := range idx.vectors {
			scores[i] = cosineSimilarity(vecs[0], v)
		}
		return scores, nil
	}

	q := tokenize(query)
	if len(q) == 0 {
		return scores, nil
	}
	for i, doc := range idx.tokens {
		hits := 0
		for tok := range q {
			if _, ok := doc[tok]; ok {
				hits++
			}
		}
		scores[i] = float64(hits) / float64(len(q))
	}
	return scores, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "what": {}, "with": {}, "are": {}, "can": {},
	"you": {}, "about": {}, "tell": {}, "me": {}, "is": {}, "to": {}, "in": {},
	"of": {}, "a": {}, "an": {}, "do": {}, "i": {}, "my": {}, "it": {}, "be": {},
	"there": {}, "should": {}, "best": {}, "time": {}, "go": {}, "visit": {},
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}
