// Package detect classifies individual answers as normal, copied from course
// material, likely generated, or otherwise anomalous.
//
// Rules run in a fixed order and the first match wins:
//
//  1. empty answer
//  2. answer shorter than the minimum for its question type
//  3. copy of the course corpus
//  4. generic discourse markers of generated text
//  5. characters outside the allowed punctuation
//  6. non-lexical letter runs
//  7. abnormal share of capitals
//  8. formula expected by the question but absent
//  9. similarity to a labeled reference dataset, or a lexical score when
//     no dataset is loaded
//  10. normal
package detect

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Class is the verdict category of an answer.
type Class string

const (
	ClassUnanswered    Class = "unanswered"
	ClassNormal        Class = "normal"
	ClassSuspectedCopy Class = "suspected_copy"
	ClassSuspectedAI   Class = "suspected_ai"
	ClassFlagged       Class = "flagged"
)

// Rule names the rule that produced a verdict.
type Rule string

const (
	RuleEmpty               Rule = "empty"
	RuleShortAnswer         Rule = "short_answer"
	RuleCourseCopy          Rule = "course_copy"
	RuleAIMarkers           Rule = "ai_markers"
	RuleSpecialCharacters   Rule = "special_characters"
	RuleGibberish           Rule = "gibberish"
	RuleAllCaps             Rule = "all_caps"
	RuleMissingFormula      Rule = "missing_formula"
	RuleReferenceSimilarity Rule = "reference_similarity"
	RuleLexicalScore        Rule = "lexical_score"
	RuleNone                Rule = "none"
)

// Paste-burst signals attached to copy verdicts.
const (
	SignalNewline     = "newline"
	SignalDoubleSpace = "double_space"
	SignalTypography  = "typography"
	SignalQuickResave = "quick_resave"
)

// Verdict is the classification of one answer.
type Verdict struct {
	Class      Class    `json:"class"`
	Rule       Rule     `json:"rule"`
	Confidence int      `json:"confidence"`
	Reason     string   `json:"reason"`
	Signals    []string `json:"signals,omitempty"`
}

// Suspicious reports whether the verdict should be surfaced as an alert.
func (v Verdict) Suspicious() bool {
	return v.Class != ClassNormal && v.Class != ClassUnanswered && v.Class != ""
}

// Input is one answer and its context.
type Input struct {
	Answer   string
	Question string
	// HasPrevious is set when the student submitted before; SincePrevious is
	// the delay since that submission and PreviousAnswer the value the cell
	// held in it.
	HasPrevious    bool
	SincePrevious  time.Duration
	PreviousAnswer string
}

// Detector classifies answers. It holds only read-only state and is safe for
// concurrent use.
type Detector struct {
	cfg        Config
	corpus     *Corpus
	refs       *ReferenceSet
	markers    phraseSet
	connectors phraseSet
}

// Option attaches an optional collaborator to a Detector.
type Option func(*Detector)

// WithCorpus enables course-copy detection.
func WithCorpus(c *Corpus) Option { return func(d *Detector) { d.corpus = c } }

// WithReferences enables reference-dataset similarity.
func WithReferences(rs *ReferenceSet) Option { return func(d *Detector) { d.refs = rs } }

// New builds a detector. Without a corpus the copy rule never fires; without
// references the lexical score is used for rule 9.
func New(cfg Config, opts ...Option) *Detector {
	d := &Detector{
		cfg:        cfg,
		markers:    newPhraseSet(cfg.Markers),
		connectors: newPhraseSet(cfg.Connectors),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// HasCorpus reports whether course-copy detection is active.
func (d *Detector) HasCorpus() bool { return !d.corpus.Empty() }

// HasReferences reports whether reference similarity is active.
func (d *Detector) HasReferences() bool { return d.refs.Len() > 0 }

// Classify returns the verdict of the first matching rule.
func (d *Detector) Classify(in Input) Verdict {
	answer := strings.TrimSpace(in.Answer)
	if answer == "" {
		return Verdict{Class: ClassUnanswered, Rule: RuleEmpty, Reason: "no answer"}
	}
	question := Fold(in.Question)
	length := utf8.RuneCountInString(answer)

	if need := d.minLength(question); length < need {
		return Verdict{
			Class:      ClassFlagged,
			Rule:       RuleShortAnswer,
			Confidence: 30,
			Reason:     fmt.Sprintf("answer too short (%d < %d characters)", length, need),
		}
	}

	if v, ok := d.courseCopy(in, answer); ok {
		return v
	}

	w := words(answer)
	if found := d.markers.matches(w); len(found) > 0 {
		return Verdict{
			Class:      ClassSuspectedAI,
			Rule:       RuleAIMarkers,
			Confidence: min(90, 50+10*(len(found)-1)),
			Reason:     "generic AI-style phrasing: " + strings.Join(found, ", "),
		}
	}

	if bad := specialChars.FindAllString(answer, 3); len(bad) > 0 {
		return Verdict{
			Class:      ClassFlagged,
			Rule:       RuleSpecialCharacters,
			Confidence: 40,
			Reason:     "unexpected characters: " + strings.Join(bad, " "),
		}
	}

	letters, vowels, upper := letterStats(answer)
	if letters >= d.cfg.MinLetters && float64(vowels)/float64(letters) < d.cfg.VowelRatio {
		return Verdict{
			Class:      ClassFlagged,
			Rule:       RuleGibberish,
			Confidence: 60,
			Reason:     "non-lexical text",
		}
	}
	if d.cfg.ConsonantRun > 0 {
		if n := longestVowellessRun(answer); n >= d.cfg.ConsonantRun {
			return Verdict{
				Class:      ClassFlagged,
				Rule:       RuleGibberish,
				Confidence: 60,
				Reason:     fmt.Sprintf("non-lexical letter run (%d letters without a vowel)", n),
			}
		}
	}
	if letters >= d.cfg.MinLetters && float64(upper)/float64(letters) > d.cfg.UpperRatio {
		return Verdict{
			Class:      ClassFlagged,
			Rule:       RuleAllCaps,
			Confidence: 50,
			Reason:     "abnormally capitalized text",
		}
	}

	if expectsFormula(question) && !formulaChars.MatchString(answer) {
		return Verdict{
			Class:      ClassFlagged,
			Rule:       RuleMissingFormula,
			Confidence: 40,
			Reason:     "expected formula not found",
		}
	}

	if d.HasReferences() {
		if v, ok := d.referenceSimilarity(answer); ok {
			return v
		}
	} else if v, ok := d.lexicalScore(answer, w); ok {
		return v
	}

	return Verdict{Class: ClassNormal, Rule: RuleNone, Reason: "normal answer"}
}

func (d *Detector) minLength(question string) int {
	switch {
	case strings.Contains(question, "expli"):
		return max(d.cfg.MinLength, d.cfg.ExplainMinLength)
	case strings.Contains(question, "defin"):
		return max(d.cfg.MinLength, d.cfg.DefineMinLength)
	default:
		return d.cfg.MinLength
	}
}

func (d *Detector) courseCopy(in Input, answer string) (Verdict, bool) {
	if !d.HasCorpus() {
		return Verdict{}, false
	}
	m := d.corpus.Compare(answer, d.cfg.CopyRatioMinLength)
	if m.Longest < d.cfg.CopyMinLCS && m.Ratio < d.cfg.CopyRatio {
		return Verdict{}, false
	}
	signals := d.pasteSignals(in)
	score := math.Max(m.Coverage, m.Ratio)
	conf := min(99, int(math.Round(40+50*score))+5*len(signals))
	return Verdict{
		Class:      ClassSuspectedCopy,
		Rule:       RuleCourseCopy,
		Confidence: conf,
		Reason:     fmt.Sprintf("copied from course material (%d matching characters, %.0f%% similar)", m.Longest, 100*score),
		Signals:    signals,
	}, true
}

// pasteSignals lists the clues that an answer was pasted rather than typed.
func (d *Detector) pasteSignals(in Input) []string {
	var out []string
	if strings.ContainsAny(in.Answer, "\r\n") {
		out = append(out, SignalNewline)
	}
	if strings.Contains(in.Answer, "  ") {
		out = append(out, SignalDoubleSpace)
	}
	if strings.ContainsAny(in.Answer, "“”‘’«»…—–") {
		out = append(out, SignalTypography)
	}
	if in.HasPrevious && in.SincePrevious >= 0 && in.SincePrevious < d.cfg.PasteWindow &&
		strings.TrimSpace(in.PreviousAnswer) != strings.TrimSpace(in.Answer) {
		out = append(out, SignalQuickResave)
	}
	return out
}

func (d *Detector) referenceSimilarity(answer string) (Verdict, bool) {
	ref, sim := d.refs.Nearest(answer)
	if sim <= d.cfg.SimilarityThreshold {
		return Verdict{}, false
	}
	conf := int(math.Round(100 * sim))
	if ref.Label == LabelAI {
		return Verdict{
			Class:      ClassSuspectedAI,
			Rule:       RuleReferenceSimilarity,
			Confidence: conf,
			Reason:     fmt.Sprintf("close to an AI reference answer (%.2f)", sim),
		}, true
	}
	return Verdict{
		Class:      ClassNormal,
		Rule:       RuleReferenceSimilarity,
		Confidence: conf,
		Reason:     fmt.Sprintf("close to a human reference answer (%.2f)", sim),
	}, true
}

// LexicalScore rates how much an answer reads like generated text, in [0, 1],
// from connector count, sentence count and length.
func (d *Detector) LexicalScore(answer string) float64 {
	return d.score(answer, words(answer))
}

func (d *Detector) score(answer, w string) float64 {
	connectors := float64(d.connectors.count(w))
	sentences := float64(countSentences(answer))
	length := float64(utf8.RuneCountInString(answer))
	return 0.4*math.Min(connectors/4, 1) + 0.3*math.Min(sentences/5, 1) + 0.3*math.Min(length/600, 1)
}

func (d *Detector) lexicalScore(answer, w string) (Verdict, bool) {
	s := d.score(answer, w)
	threshold := d.cfg.LexicalThreshold
	if utf8.RuneCountInString(answer) >= d.cfg.LexicalLongText || d.connectors.count(w) >= 3 {
		threshold = d.cfg.LexicalLongThreshold
	}
	if s < threshold {
		return Verdict{}, false
	}
	return Verdict{
		Class:      ClassSuspectedAI,
		Rule:       RuleLexicalScore,
		Confidence: int(math.Round(100 * s)),
		Reason:     fmt.Sprintf("lexical profile of generated text (score %.2f)", s),
	}, true
}

func countSentences(s string) int {
	n := 0
	inSentence := false
	for _, r := range s {
		switch {
		case r == '.' || r == '!' || r == '?' || r == ';':
			if inSentence {
				n++
			}
			inSentence = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			inSentence = true
		}
	}
	if inSentence {
		n++
	}
	return n
}

var (
	specialChars = regexp.MustCompile(`[^\p{L}\p{N}_\s.,;:?!'’"«»()\-=/+*^%°×÷√·⋅≤≥≈<>\[\]]`)
	formulaChars = regexp.MustCompile(`[0-9=+\-*/^()_%·⋅×÷√\p{Greek}]`)
)

var formulaKeywords = []string{
	"formule", "formula", "calcul", "expr", "equation",
	"sigma", "moment", "contrainte", "stress", "compute",
}

// mathSymbols in a question ask for a formula as much as the keywords do.
var mathSymbols = regexp.MustCompile(`[=±×÷√∑∏∫∂∆≤≥≈²³\p{Greek}]`)

// expectsFormula reports whether a folded question calls for a formula.
func expectsFormula(question string) bool {
	if mathSymbols.MatchString(question) {
		return true
	}
	for _, k := range formulaKeywords {
		if strings.Contains(question, k) {
			return true
		}
	}
	return false
}

// longestVowellessRun is the length of the longest run of Latin letters
// without a vowel.
func longestVowellessRun(s string) int {
	longest, cur := 0, 0
	for _, r := range s {
		switch {
		case !unicode.IsLetter(r) || !unicode.Is(unicode.Latin, r):
			cur = 0
		case strings.ContainsRune("aeiouy", []rune(Fold(string(r)))[0]):
			cur = 0
		default:
			cur++
			longest = max(longest, cur)
		}
	}
	return longest
}

// letterStats counts Latin letters, vowels among them and capitals.
func letterStats(s string) (letters, vowels, upper int) {
	for _, r := range s {
		if !unicode.Is(unicode.Latin, r) || !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
		if strings.ContainsRune("aeiouy", []rune(Fold(string(r)))[0]) {
			vowels++
		}
	}
	return letters, vowels, upper
}
