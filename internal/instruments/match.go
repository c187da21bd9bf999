package instruments

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"partbank/internal/config"
	"partbank/internal/store"
)

// Resolution methods, strongest first.
const (
	MethodExact = "exact"
	MethodAlias = "alias"
	MethodFuzzy = "fuzzy"
)

// aliases maps common shorthand to the canonical instrument name it stands
// for. Keys and values are in normalized form.
var aliases = map[string]string{
	"picc":          "piccolo",
	"fl":            "flute",
	"ob":            "oboe",
	"cl":            "clarinet",
	"bsn":           "bassoon",
	"alto sax":      "alto saxophone",
	"tenor sax":     "tenor saxophone",
	"bari sax":      "baritone saxophone",
	"baritone sax":  "baritone saxophone",
	"tpt":           "trumpet",
	"trp":           "trumpet",
	"cornet":        "trumpet",
	"hn":            "horn",
	"french horn":   "horn",
	"tbn":           "trombone",
	"trb":           "trombone",
	"bar":           "baritone",
	"euph":          "euphonium",
	"sousaphone":    "tuba",
	"perc":          "percussion",
	"drums":         "percussion",
	"mallets":       "mallet percussion",
	"bells":         "mallet percussion",
	"str bass":      "string bass",
	"double bass":   "string bass",
	"contrabass":    "string bass",
	"electric bass": "bass guitar",
}

// familyKeywords infers an instrument family from words in the label, used to
// nudge fuzzy scores toward same-family candidates.
var familyKeywords = map[string]string{
	"flute": "woodwind", "piccolo": "woodwind", "oboe": "woodwind",
	"clarinet": "woodwind", "bassoon": "woodwind", "sax": "woodwind",
	"saxophone": "woodwind",
	"trumpet":   "brass", "cornet": "brass", "horn": "brass",
	"trombone": "brass", "baritone": "brass", "euphonium": "brass",
	"tuba": "brass",
	"drum": "percussion", "percussion": "percussion", "timpani": "percussion",
	"cymbal": "percussion", "snare": "percussion", "mallet": "percussion",
	"xylophone": "percussion", "marimba": "percussion", "bell": "percussion",
}

// Match is a resolved label.
type Match struct {
	Instrument store.Instrument
	Confidence float64
	Method     string
}

// UnresolvedError reports a label no catalog instrument matched confidently.
type UnresolvedError struct {
	Label      string
	Normalized string
	BestGuess  string
	Confidence float64
}

func (e *UnresolvedError) Error() string {
	if e.BestGuess == "" {
		return fmt.Sprintf("no instrument matches label %q", e.Label)
	}
	return fmt.Sprintf("no instrument matches label %q (closest %q at %.2f)", e.Label, e.BestGuess, e.Confidence)
}

// Matcher resolves part labels against a fixed instrument catalog.
type Matcher struct {
	cfg         config.Matching
	instruments []store.Instrument
	byNorm      map[string]store.Instrument
}

// NewMatcher indexes the catalog for lookup. The catalog is small and
// read-only, so the index is built once per matcher.
func NewMatcher(catalog []store.Instrument, cfg config.Matching) *Matcher {
	byNorm := make(map[string]store.Instrument, len(catalog))
	for _, inst := range catalog {
		byNorm[Normalize(inst.Name)] = inst
	}
	return &Matcher{cfg: cfg, instruments: catalog, byNorm: byNorm}
}

// Match resolves one label. Resolution tries the normalized form exactly,
// then the alias table, then Levenshtein similarity with a same-family bonus.
// Fuzzy confidence is capped below alias confidence so provenance stays
// visible in the score.
func (m *Matcher) Match(label string) (Match, error) {
	normalized := Normalize(label)
	if normalized == "" {
		return Match{}, &UnresolvedError{Label: label, Normalized: normalized}
	}

	if inst, ok := m.byNorm[normalized]; ok {
		return Match{Instrument: inst, Confidence: 1.0, Method: MethodExact}, nil
	}

	if canonical, ok := aliases[normalized]; ok {
		if inst, ok := m.byNorm[canonical]; ok {
			return Match{Instrument: inst, Confidence: m.cfg.AliasConfidence, Method: MethodAlias}, nil
		}
	}

	labelFamily := inferFamily(normalized)
	var best Match
	for _, inst := range m.instruments {
		score := similarity(normalized, Normalize(inst.Name))
		if labelFamily != "" && labelFamily == inst.Family {
			score += m.cfg.FamilyBonus
		}
		if score > m.cfg.FuzzyCap {
			score = m.cfg.FuzzyCap
		}
		if score > best.Confidence {
			best = Match{Instrument: inst, Confidence: score, Method: MethodFuzzy}
		}
	}

	if best.Confidence < m.cfg.AcceptThreshold {
		return Match{}, &UnresolvedError{
			Label:      label,
			Normalized: normalized,
			BestGuess:  best.Instrument.Name,
			Confidence: best.Confidence,
		}
	}
	return best, nil
}

// MapLabels matches a set of labels as a group, deduplicating by catalog
// instrument id. When several labels resolve to the same instrument, the
// highest confidence seen wins. The error slice carries one UnresolvedError
// per distinct unmatched normalized form.
func (m *Matcher) MapLabels(labels []string) (map[int64]Match, []*UnresolvedError) {
	matched := make(map[int64]Match)
	unresolved := make(map[string]*UnresolvedError)

	for _, label := range labels {
		result, err := m.Match(label)
		if err != nil {
			var unres *UnresolvedError
			if !errors.As(err, &unres) {
				unres = &UnresolvedError{Label: label, Normalized: Normalize(label)}
			}
			unresolved[unres.Normalized] = unres
			continue
		}
		id := result.Instrument.ID
		if existing, ok := matched[id]; !ok || result.Confidence > existing.Confidence {
			matched[id] = result
		}
	}

	errs := make([]*UnresolvedError, 0, len(unresolved))
	for _, unres := range unresolved {
		errs = append(errs, unres)
	}
	return matched, errs
}

func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	longest := max(len(a), len(b))
	if longest == 0 {
		return 0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(longest)
}

func inferFamily(normalized string) string {
	for _, word := range strings.Fields(normalized) {
		if family, ok := familyKeywords[word]; ok {
			return family
		}
		// "sax" appears as a suffix in labels like "altosax".
		if strings.HasSuffix(word, "sax") {
			return "woodwind"
		}
	}
	return ""
}
