package detect

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Corpus is the course text answers are checked against. It is built once
// and is safe for concurrent reads.
type Corpus struct {
	text     string
	passages []string
	sam      *suffixAutomaton
	dmp      *diffmatchpatch.DiffMatchPatch
}

// NewCorpus indexes course text. Passages are the non-blank lines of the
// text; matching is case and diacritic insensitive.
func NewCorpus(text string) *Corpus {
	c := &Corpus{
		text: collapse(text),
		dmp:  diffmatchpatch.New(),
	}
	c.dmp.DiffTimeout = 0
	for _, line := range strings.Split(text, "\n") {
		if p := collapse(line); p != "" {
			c.passages = append(c.passages, p)
		}
	}
	c.sam = buildAutomaton(c.text)
	return c
}

// LoadCorpus reads course text from a file.
func LoadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read course corpus: %w", err)
	}
	return NewCorpus(string(data)), nil
}

// Empty reports whether the corpus holds no text.
func (c *Corpus) Empty() bool { return c == nil || c.text == "" }

// Match describes how closely an answer follows the corpus.
type Match struct {
	// Longest is the length in runes of the longest common substring.
	Longest int
	// Coverage is Longest divided by the answer length.
	Coverage float64
	// Ratio is the best whole-text similarity against a single passage.
	Ratio float64
}

// Compare measures answer against the corpus. The whole-text ratio is only
// computed for answers of at least minRatioLen runes.
func (c *Corpus) Compare(answer string, minRatioLen int) Match {
	var m Match
	if c.Empty() {
		return m
	}
	a := collapse(answer)
	n := utf8.RuneCountInString(a)
	if n == 0 {
		return m
	}
	m.Longest = c.sam.longestCommon(a)
	m.Coverage = float64(m.Longest) / float64(n)
	if n >= minRatioLen {
		for _, p := range c.passages {
			if r := c.ratio(a, p); r > m.Ratio {
				m.Ratio = r
			}
		}
	}
	return m
}

// ratio is 2*matched/total over the character diff of a and b.
func (c *Corpus) ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	// The ratio cannot reach 2*min/(la+lb); skip hopeless passages.
	if la+lb == 0 || 2*float64(min(la, lb))/float64(la+lb) < 0.5 {
		return 0
	}
	matched := 0
	for _, d := range c.dmp.DiffMain(a, b, false) {
		if d.Type == diffmatchpatch.DiffEqual {
			matched += utf8.RuneCountInString(d.Text)
		}
	}
	return 2 * float64(matched) / float64(la+lb)
}

// suffixAutomaton recognizes every substring of the indexed text and finds
// the longest common substring with a query in linear time.
type suffixAutomaton struct {
	next   []map[rune]int32
	link   []int32
	length []int32
}

func buildAutomaton(s string) *suffixAutomaton {
	n := utf8.RuneCountInString(s)
	sa := &suffixAutomaton{
		next:   make([]map[rune]int32, 1, 2*n+1),
		link:   make([]int32, 1, 2*n+1),
		length: make([]int32, 1, 2*n+1),
	}
	sa.next[0] = map[rune]int32{}
	sa.link[0] = -1
	last := int32(0)
	for _, r := range s {
		cur := sa.add(sa.length[last]+1, -1)
		p := last
		for p != -1 {
			if _, ok := sa.next[p][r]; ok {
				break
			}
			sa.next[p][r] = cur
			p = sa.link[p]
		}
		switch {
		case p == -1:
			sa.link[cur] = 0
		case sa.length[p]+1 == sa.length[sa.next[p][r]]:
			sa.link[cur] = sa.next[p][r]
		default:
			q := sa.next[p][r]
			clone := sa.add(sa.length[p]+1, sa.link[q])
			for k, v := range sa.next[q] {
				sa.next[clone][k] = v
			}
			for p != -1 && sa.next[p][r] == q {
				sa.next[p][r] = clone
				p = sa.link[p]
			}
			sa.link[q] = clone
			sa.link[cur] = clone
		}
		last = cur
	}
	return sa
}

func (sa *suffixAutomaton) add(length, link int32) int32 {
	sa.next = append(sa.next, map[rune]int32{})
	sa.link = append(sa.link, link)
	sa.length = append(sa.length, length)
	return int32(len(sa.next) - 1)
}

func (sa *suffixAutomaton) longestCommon(q string) int {
	v, l, best := int32(0), int32(0), int32(0)
	for _, r := range q {
		for v != 0 {
			if _, ok := sa.next[v][r]; ok {
				break
			}
			v = sa.link[v]
			l = sa.length[v]
		}
		if to, ok := sa.next[v][r]; ok {
			v = to
			l++
		} else {
			v, l = 0, 0
		}
		if l > best {
			best = l
		}
	}
	return int(best)
}
