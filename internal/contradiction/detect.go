// Package contradiction implements the Contradiction Engine: symbolic and
// neural detectors that compare a pair of memory contents and, when they
// disagree, emit a typed contradiction with an explanation and a suggested
// action.
package contradiction

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Type is the kind of contradiction a detector emitted.
type Type string

const (
	TypeNegation Type = "negation"
	TypeAntonym  Type = "antonym"
	TypeFactual  Type = "factual"
	TypeNLI      Type = "nli"
	TypeTemporal Type = "temporal"
)

// Action is what the caller should do about an emitted contradiction.
type Action string

const (
	ActionReview  Action = "review"
	ActionResolve Action = "resolve"
	ActionIgnore  Action = "ignore"
)

// Finding is one emitted contradiction between two content strings.
type Finding struct {
	Type        Type
	Similarity  float64
	Explanation string
	Suggested   Action
}

// minSharedContentWords is the ≥3-shared-content-word gate the negation and
// antonym detectors (and the version-update and temporal-supersession
// heuristics) require before they will fire, so that two unrelated sentences
// that happen to share a negation or antonym never trigger a false positive.
// The factual and temporal detectors match on subject instead.
const minSharedContentWords = 3

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "of": true, "to": true, "in": true,
	"on": true, "at": true, "for": true, "and": true, "or": true, "but": true,
	"it": true, "this": true, "that": true, "has": true, "have": true,
	"with": true, "as": true, "by": true, "not": true, "no": true,
}

// negationTokens mark explicit negation in one side of a comparison.
var negationTokens = map[string]bool{
	"not": true, "no": true, "never": true, "none": true, "isn't": true,
	"wasn't": true, "doesn't": true, "didn't": true, "won't": true,
	"can't": true, "cannot": true, "without": true,
}

// antonymPairs is a small hand-maintained table of opposite-meaning word
// pairs relevant to the kind of factual statements an agent stores about
// its environment (status, direction, size, recency). There is no
// precedent for this kind of lookup table elsewhere in the retrieved pack;
// it is new, narrowly-scoped code rather than a generalized NLP resource.
var antonymPairs = [][2]string{
	{"enabled", "disabled"},
	{"on", "off"},
	{"up", "down"},
	{"active", "inactive"},
	{"online", "offline"},
	{"running", "stopped"},
	{"true", "false"},
	{"present", "absent"},
	{"working", "broken"},
	{"passing", "failing"},
	{"open", "closed"},
	{"success", "failure"},
	{"allowed", "forbidden"},
	{"public", "private"},
	{"stable", "unstable"},
	{"increasing", "decreasing"},
	{"before", "after"},
	{"old", "new"},
	{"first", "last"},
}

func antonymOf(word string) (string, bool) {
	for _, pair := range antonymPairs {
		if pair[0] == word {
			return pair[1], true
		}
		if pair[1] == word {
			return pair[0], true
		}
	}
	return "", false
}

// normalize lowercases and strips everything but letters/digits, mirroring
// the token-normalization style used elsewhere in the pack for duplicate
// detection over free text.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(' ')
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func tokens(s string) []string {
	return strings.Fields(normalize(s))
}

// contentWords returns the token set with stopwords and the given
// exclusions removed, used both to test the ≥3-shared-word gate and to
// compute a Jaccard similarity as a similarity estimate when no embedding
// is available.
func contentWords(s string, exclude map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for _, t := range tokens(s) {
		if len(t) < 3 || stopwords[t] || exclude[t] {
			continue
		}
		out[t] = true
	}
	return out
}

func sharedWords(a, b map[string]bool) int {
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}

func hasNegation(words []string) bool {
	for _, w := range words {
		if negationTokens[w] {
			return true
		}
	}
	return false
}

// detectNegation implements the negation half of Section 4.5 step 2: one
// side carries an explicit negation token, the other doesn't, and they
// share enough content words to plausibly be about the same thing.
func detectNegation(a, b string) (Finding, bool) {
	aNeg := hasNegation(tokens(a))
	bNeg := hasNegation(tokens(b))
	if aNeg == bNeg {
		return Finding{}, false
	}
	shared := sharedWords(contentWords(a, nil), contentWords(b, nil))
	if shared < minSharedContentWords {
		return Finding{}, false
	}
	return Finding{
		Type:        TypeNegation,
		Explanation: "one statement negates the other and they share enough context to be about the same thing",
		Suggested:   ActionReview,
	}, true
}

// detectAntonym implements the antonym half of step 2.
func detectAntonym(a, b string) (Finding, bool) {
	aWords := contentWords(a, nil)
	bWords := contentWords(b, nil)
	if sharedWords(aWords, bWords) < minSharedContentWords {
		return Finding{}, false
	}
	for w := range aWords {
		opp, ok := antonymOf(w)
		if !ok {
			continue
		}
		if bWords[opp] {
			return Finding{
				Type:        TypeAntonym,
				Explanation: "statements use opposite terms (\"" + w + "\" vs \"" + opp + "\") over shared context",
				Suggested:   ActionReview,
			}, true
		}
	}
	return Finding{}, false
}

// versionPattern matches version-like tokens such as "v1.2" or "2.3.4".
var versionPattern = regexp.MustCompile(`\bv?\d+\.\d+(\.\d+)?\b`)

// numberPattern pulls plain integers/decimals out of a string for the
// factual-triple numeric-disagreement check.
var numberPattern = regexp.MustCompile(`\b\d+(\.\d+)?`)

// triplePatterns extracts a small ordered list of (subject, object) shapes,
// matching Section 4.5 step 3's "X is Y / X has Y / the N of X is Y /
// location or date or quantity forms".
var triplePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(.+?)\s+is\s+(.+)$`),
	regexp.MustCompile(`(?i)^(.+?)\s+has\s+(.+)$`),
	regexp.MustCompile(`(?i)^the\s+(\w+)\s+of\s+(.+?)\s+is\s+(.+)$`),
	regexp.MustCompile(`(?i)^(.+?)\s+(?:is located|lives|runs)\s+(?:in|at)\s+(.+)$`),
}

type triple struct {
	subject string
	object  string
}

func extractTriple(sentence string) (triple, bool) {
	s := strings.TrimSpace(sentence)
	if s == "" {
		return triple{}, false
	}
	for i, pat := range triplePatterns {
		m := pat.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		if i == 2 && len(m) == 4 {
			// "the N of X is Y" — subject is X, object is Y.
			return triple{subject: normalize(m[2]), object: normalize(m[3])}, true
		}
		if len(m) == 3 {
			return triple{subject: normalize(m[1]), object: normalize(m[2])}, true
		}
	}
	return triple{}, false
}

// firstSentence takes the leading clause of free-form content so triple
// extraction does not have to parse an entire memory body.
func firstSentence(content string) string {
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if idx := strings.Index(content, sep); idx >= 0 {
			return content[:idx]
		}
	}
	return content
}

func sameSubject(a, b string) bool {
	if a == b {
		return true
	}
	aw := strings.Fields(a)
	bw := strings.Fields(b)
	if len(aw) == 1 && len(bw) == 1 {
		return false
	}
	// single-word equivalence: either side reduces to a single shared word.
	for _, w := range aw {
		if len(bw) == 1 && bw[0] == w {
			return true
		}
	}
	for _, w := range bw {
		if len(aw) == 1 && aw[0] == w {
			return true
		}
	}
	return false
}

func objectsDisagree(a, b string) bool {
	numsA := numberPattern.FindAllString(a, -1)
	numsB := numberPattern.FindAllString(b, -1)
	if len(numsA) > 0 && len(numsB) > 0 {
		for _, na := range numsA {
			for _, nb := range numsB {
				fa, erra := strconv.ParseFloat(na, 64)
				fb, errb := strconv.ParseFloat(nb, 64)
				if erra == nil && errb == nil && fa != fb {
					return true
				}
			}
		}
		return false
	}
	aw := contentWords(a, nil)
	for w := range aw {
		if opp, ok := antonymOf(w); ok && contentWords(b, nil)[opp] {
			return true
		}
	}
	return false
}

// detectFactual implements Section 4.5 step 3.
func detectFactual(a, b string) (Finding, bool) {
	ta, ok := extractTriple(firstSentence(a))
	if !ok {
		return Finding{}, false
	}
	tb, ok := extractTriple(firstSentence(b))
	if !ok {
		return Finding{}, false
	}
	if !sameSubject(ta.subject, tb.subject) {
		return Finding{}, false
	}
	if !objectsDisagree(ta.object, tb.object) {
		return Finding{}, false
	}
	return Finding{
		Type:        TypeFactual,
		Explanation: "both statements describe \"" + ta.subject + "\" but disagree on the value",
		Suggested:   ActionReview,
	}, true
}

// datePattern matches ISO-ish dates (2024-06-15) and month-name dates
// (June 15, 2024), the two forms spec.md's examples use elsewhere.
var datePattern = regexp.MustCompile(`(?i)\b\d{4}-\d{2}-\d{2}\b|\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)\w*\s+\d{1,2},?\s+\d{4}\b`)

// detectTemporal implements Section 4.5 step 5: same subject, both sides
// carry an explicit date, and the facts otherwise disagree.
func detectTemporal(a, b string) (Finding, bool) {
	da := datePattern.FindString(a)
	db := datePattern.FindString(b)
	if da == "" || db == "" || strings.EqualFold(da, db) {
		return Finding{}, false
	}
	// The dates themselves differ, so strip them before comparing subjects.
	ta, ok1 := extractTriple(firstSentence(datePattern.ReplaceAllString(a, "")))
	tb, ok2 := extractTriple(firstSentence(datePattern.ReplaceAllString(b, "")))
	if !ok1 || !ok2 || !sameSubject(ta.subject, tb.subject) {
		return Finding{}, false
	}
	if !objectsDisagree(ta.object, tb.object) {
		return Finding{}, false
	}
	return Finding{
		Type:        TypeTemporal,
		Explanation: "statements about \"" + ta.subject + "\" carry different dates (" + da + " vs " + db + ") and disagree",
		Suggested:   ActionReview,
	}, true
}

// versionTokensDiffer reports whether a and b both carry a version-like
// token and those tokens differ, used by the version-update auto-resolution
// heuristic.
func versionTokensDiffer(a, b string) (string, string, bool) {
	va := versionPattern.FindString(a)
	vb := versionPattern.FindString(b)
	if va == "" || vb == "" || va == vb {
		return "", "", false
	}
	return va, vb, true
}

// sharedContentWordsExcludingVersion is used by the version-update
// heuristic, which must count shared words outside the version token
// itself.
func sharedContentWordsExcludingVersion(a, b, va, vb string) int {
	exclude := map[string]bool{strings.ToLower(va): true, strings.ToLower(vb): true}
	return sharedWords(contentWords(a, exclude), contentWords(b, exclude))
}
