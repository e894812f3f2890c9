// Package tfidf builds the vocabulary and weighting model of the matcher: a
// document-frequency table over the active corpus and the TF-IDF vectors
// derived from it.
//
// Dimensions are assigned from the lexicographically sorted term set, so the
// same corpus fitted in any order yields identical vectors.
package tfidf

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
)

// Model is an immutable fitted vocabulary.
type Model struct {
	terms       []string
	index       map[string]int
	docFreq     []int
	idf         []float64
	totalDocs   int
	fingerprint string
}

type termStat struct {
	docFreq int
	idf     float64
}

type transformStats struct {
	tokens          int
	outOfVocabulary int
}

// Fit builds a Model over corpus, keyed by document id. Each document
// contributes at most once to a term's document frequency.
func Fit(corpus map[string][]string) *Model {
	docFreq := make(map[string]int)
	for _, tokens := range corpus {
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			docFreq[tok]++
		}
	}

	terms := make([]string, 0, len(docFreq))
	for term := range docFreq {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	m := &Model{
		terms:       terms,
		index:       make(map[string]int, len(terms)),
		docFreq:     make([]int, len(terms)),
		idf:         make([]float64, len(terms)),
		totalDocs:   len(corpus),
		fingerprint: fingerprint(corpus),
	}
	for i, term := range terms {
		m.index[term] = i
		m.docFreq[i] = docFreq[term]
		m.idf[i] = IDF(m.totalDocs, docFreq[term])
	}
	return m
}

// IDF is the smoothed inverse document frequency ln((1+n)/(1+df)) + 1. It is
// strictly positive and decreases as df grows.
func IDF(totalDocs, docFreq int) float64 {
	return math.Log(float64(1+totalDocs)/float64(1+docFreq)) + 1
}

// Transform maps tokens to a vector in the model's space. Term frequency is
// the occurrence count divided by the sequence length, including tokens that
// are out of vocabulary; those tokens carry zero weight.
func (m *Model) Transform(tokens []string) Vector {
	v, _ := m.transform(tokens)
	return v
}

func (m *Model) transform(tokens []string) (Vector, transformStats) {
	weights := make([]float64, len(m.terms))
	stats := transformStats{tokens: len(tokens)}
	if len(tokens) == 0 {
		return NewVector(weights), stats
	}
	counts := make(map[int]int, len(tokens))
	for _, tok := range tokens {
		idx, ok := m.index[tok]
		if !ok {
			stats.outOfVocabulary++
			continue
		}
		counts[idx]++
	}
	length := float64(len(tokens))
	for idx, n := range counts {
		weights[idx] = float64(n) / length * m.idf[idx]
	}
	return NewVector(weights), stats
}

// Check returns ErrDimensionMismatch if v was not produced by a model of the
// same dimension.
func (m *Model) Check(v Vector) error {
	if v.Dim() != len(m.terms) {
		return fmt.Errorf("%w: vector has %d dimensions, model has %d", ErrDimensionMismatch, v.Dim(), len(m.terms))
	}
	return nil
}

// Dim returns the vocabulary size.
func (m *Model) Dim() int {
	return len(m.terms)
}

// TotalDocs returns the number of documents the model was fitted on.
func (m *Model) TotalDocs() int {
	return m.totalDocs
}

// Terms returns the sorted vocabulary.
func (m *Model) Terms() []string {
	out := make([]string, len(m.terms))
	copy(out, m.terms)
	return out
}

func (m *Model) term(term string) (termStat, bool) {
	idx, ok := m.index[term]
	if !ok {
		return termStat{}, false
	}
	return termStat{docFreq: m.docFreq[idx], idf: m.idf[idx]}, true
}

// Fingerprint identifies the fitted corpus. Two models fitted on the same
// documents have the same fingerprint regardless of insertion order.
func (m *Model) Fingerprint() string {
	return m.fingerprint
}

func fingerprint(corpus map[string][]string) string {
	ids := make([]string, 0, len(corpus))
	for id := range corpus {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
		for _, tok := range corpus[id] {
			h.Write([]byte(tok))
			h.Write([]byte{' '})
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
