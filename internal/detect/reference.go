package detect

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"unicode"
)

// Label is the origin of a reference answer.
type Label string

const (
	LabelAI    Label = "ai"
	LabelHuman Label = "human"
)

// ParseLabel accepts "ai"/"human" and the legacy numeric form 0 = AI,
// 1 = human.
func ParseLabel(s string) (Label, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ai", "ia", "0":
		return LabelAI, nil
	case "human", "humain", "1":
		return LabelHuman, nil
	}
	return "", fmt.Errorf("unknown label %q", s)
}

// Reference is one labeled answer.
type Reference struct {
	Text  string
	Label Label
}

// ReferenceSet is a labeled answer dataset with its TF-IDF vectors computed
// once at construction. It is safe for concurrent reads.
type ReferenceSet struct {
	refs    []Reference
	vocab   map[string]int
	idf     []float64
	vectors []sparseVec
}

type sparseVec map[int]float64

// NewReferenceSet vectorizes refs with smoothed inverse document frequency
// and L2-normalized term counts.
func NewReferenceSet(refs []Reference) *ReferenceSet {
	rs := &ReferenceSet{refs: refs, vocab: make(map[string]int)}
	docs := make([][]string, len(refs))
	df := map[int]int{}
	for i, r := range refs {
		docs[i] = tokenize(r.Text)
		seen := map[int]bool{}
		for _, tok := range docs[i] {
			id, ok := rs.vocab[tok]
			if !ok {
				id = len(rs.vocab)
				rs.vocab[tok] = id
			}
			if !seen[id] {
				seen[id] = true
				df[id]++
			}
		}
	}
	n := float64(len(refs))
	rs.idf = make([]float64, len(rs.vocab))
	for id := range rs.idf {
		rs.idf[id] = math.Log((1+n)/(1+float64(df[id]))) + 1
	}
	rs.vectors = make([]sparseVec, len(refs))
	for i, toks := range docs {
		rs.vectors[i] = rs.vectorize(toks)
	}
	return rs
}

// Len returns the number of references.
func (rs *ReferenceSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.refs)
}

// Nearest returns the most similar reference and its cosine similarity.
// Terms unknown to the dataset are ignored.
func (rs *ReferenceSet) Nearest(text string) (Reference, float64) {
	if rs.Len() == 0 {
		return Reference{}, 0
	}
	q := rs.vectorize(tokenize(text))
	best, bestSim := -1, 0.0
	for i, v := range rs.vectors {
		if s := dot(q, v); best == -1 || s > bestSim {
			best, bestSim = i, s
		}
	}
	return rs.refs[best], bestSim
}

func (rs *ReferenceSet) vectorize(toks []string) sparseVec {
	v := sparseVec{}
	for _, tok := range toks {
		if id, ok := rs.vocab[tok]; ok {
			v[id]++
		}
	}
	var norm float64
	for id, tf := range v {
		w := tf * rs.idf[id]
		v[id] = w
		norm += w * w
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for id := range v {
		v[id] /= norm
	}
	return v
}

func dot(a, b sparseVec) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var s float64
	for id, w := range a {
		s += w * b[id]
	}
	return s
}

var stopWords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`
		le la les un une des du de d l et ou en au aux a est sont ce cette ces
		se sa son ses qui que qu dans par pour sur avec pas ne il elle ils on
		the a an and or of to in is are be for on with as by it this that at
		from was were not`) {
		stopWords[w] = true
	}
}

// tokenize folds text into word tokens of at least two runes, minus stop words.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// ReadReferences parses a dataset CSV with a text column ("text" or
// "reponse") and a "label" column.
func ReadReferences(r io.Reader) ([]Reference, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	textCol, labelCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "text", "reponse", "réponse", "answer":
			textCol = i
		case "label":
			labelCol = i
		}
	}
	if textCol < 0 || labelCol < 0 {
		return nil, fmt.Errorf("dataset needs text and label columns")
	}
	var out []Reference
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		if textCol >= len(row) || labelCol >= len(row) {
			continue
		}
		label, err := ParseLabel(row[labelCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if strings.TrimSpace(row[textCol]) == "" {
			continue
		}
		out = append(out, Reference{Text: row[textCol], Label: label})
	}
	return out, nil
}

// LoadReferences reads and vectorizes a dataset file.
func LoadReferences(path string) (*ReferenceSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference dataset: %w", err)
	}
	defer f.Close()
	refs, err := ReadReferences(f)
	if err != nil {
		return nil, fmt.Errorf("parse reference dataset: %w", err)
	}
	return NewReferenceSet(refs), nil
}
