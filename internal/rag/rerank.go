package rag

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// Passage scores are blended half and half with the share of query terms the
// passage contains.
const (
	similarityWeight = 0.5
	overlapWeight    = 0.5
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "but": {}, "for": {}, "with": {}, "from": {}, "was": {},
	"are": {}, "been": {}, "being": {}, "have": {}, "has": {}, "had": {}, "does": {},
	"did": {}, "will": {}, "would": {}, "could": {}, "should": {}, "may": {}, "might": {},
	"can": {}, "this": {}, "that": {}, "these": {}, "those": {}, "you": {}, "she": {},
	"they": {}, "what": {}, "which": {}, "who": {}, "when": {}, "where": {}, "why": {},
	"how": {}, "its": {}, "not": {},
}

// Reranker reorders the passages of an underlying retriever by query term
// overlap and keeps the best topK.
type Reranker struct {
	next Retriever
	topK int
}

// NewReranker wraps next. topK <= 0 keeps every passage.
func NewReranker(next Retriever, topK int) *Reranker {
	return &Reranker{next: next, topK: topK}
}

// Search implements Retriever.
func (r *Reranker) Search(ctx context.Context, query string) ([]Passage, error) {
	passages, err := r.next.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	return Rerank(query, passages, r.topK), nil
}

// Rerank sorts passages by the blend of their similarity score and query term
// overlap, stable for equal scores. A query without content terms keeps the
// similarity order. Scores of the returned passages are the blended values.
func Rerank(query string, passages []Passage, topK int) []Passage {
	out := make([]Passage, len(passages))
	copy(out, passages)
	if topK <= 0 || topK > len(out) {
		topK = len(out)
	}

	terms := uniqueTerms(query)
	if len(terms) == 0 {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		return out[:topK]
	}

	for i := range out {
		overlap := termOverlap(terms, out[i].Content)
		out[i].Score = similarityWeight*out[i].Score + overlapWeight*overlap
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out[:topK]
}

// termOverlap is the share of terms that occur in text.
func termOverlap(terms map[string]struct{}, text string) float32 {
	seen := uniqueTerms(text)
	var n int
	for t := range terms {
		if _, ok := seen[t]; ok {
			n++
		}
	}
	return float32(n) / float32(len(terms))
}

// uniqueTerms lowercases text and keeps alphanumeric words longer than two
// characters that are not stopwords.
func uniqueTerms(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len(w) <= 2 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}
