package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// MemoryBackend is an in-process index used for local runs and tests. A
// document scores one point per field for every query term that field contains.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string]map[string]map[string]interface{}
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]map[string]map[string]interface{})}
}

func (m *MemoryBackend) Index(_ context.Context, index, id string, fields map[string]interface{}) error {
	cp := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[index] == nil {
		m.docs[index] = make(map[string]map[string]interface{})
	}
	m.docs[index][id] = cp
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, index, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[index], id)
	return nil
}

func (m *MemoryBackend) Search(_ context.Context, index, query string, offset, limit int) ([]string, int64, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, 0, nil
	}
	type hit struct {
		id    string
		score int
	}
	m.mu.RLock()
	var hits []hit
	for id, fields := range m.docs[index] {
		score := 0
		for _, v := range fields {
			s, ok := v.(string)
			if !ok {
				s = fmt.Sprint(v)
			}
			for tok := range tokenize(s) {
				if _, ok := terms[tok]; ok {
					score++
				}
			}
		}
		if score > 0 {
			hits = append(hits, hit{id: id, score: score})
		}
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].id < hits[j].id
	})
	total := int64(len(hits))
	if offset >= len(hits) {
		return []string{}, total, nil
	}
	end := len(hits)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	ids := make([]string, 0, end-offset)
	for _, h := range hits[offset:end] {
		ids = append(ids, h.id)
	}
	return ids, total, nil
}

// Get returns a copy of the stored document.
func (m *MemoryBackend) Get(index, id string) (map[string]interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[index][id]
	if !ok {
		return nil, false
	}
	cp := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		cp[k] = v
	}
	return cp, true
}

// Count returns the number of documents in index.
func (m *MemoryBackend) Count(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[index])
}

func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[w] = struct{}{}
	}
	return out
}
