package catalogs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateActivity        = errors.New("duplicate activity")
	ErrUnknownCanonicalActivity = errors.New("unknown canonical activity")
	ErrActivityUnresolved       = errors.New("activity unresolved")
)

// Kind selects the execution shape of an activity.
type Kind string

const (
	KindStationary        Kind = "STATIONARY"
	KindRoutineMovement   Kind = "ROUTINE_MOVEMENT"
	KindGotoLocation      Kind = "GOTO_LOCATION"
	KindSocialInteraction Kind = "SOCIAL_INTERACTION"
	KindCrafting          Kind = "CRAFTING"
)

// RequiresLocation reports whether the kind must resolve a location before
// it may perform.
func (k Kind) RequiresLocation() bool {
	return k != KindRoutineMovement
}

// DurationClass maps to a tick count via tuning; DurationOpen runs until
// superseded by the next scheduled activity.
type DurationClass string

const (
	DurationShort  DurationClass = "SHORT"
	DurationMedium DurationClass = "MEDIUM"
	DurationLong   DurationClass = "LONG"
	DurationOpen   DurationClass = "OPEN"
)

// RoutinePattern shapes the waypoint ring of a ROUTINE_MOVEMENT activity.
type RoutinePattern string

const (
	PatternPace   RoutinePattern = "PACE"
	PatternPatrol RoutinePattern = "PATROL"
)

// ActivityDefinition is a canonical activity. Immutable after catalog
// construction.
type ActivityDefinition struct {
	Name          string         `json:"name"`
	Kind          Kind           `json:"kind"`
	Tags          []string       `json:"tags"`
	Animation     string         `json:"animation"`
	Duration      DurationClass  `json:"duration"`
	Priority      int            `json:"priority"`
	Interruptible bool           `json:"interruptible"`
	Description   string         `json:"description"`
	Pattern       RoutinePattern `json:"pattern,omitempty"`
	Extent        int            `json:"extent,omitempty"`
}

type corpusEntry struct {
	phrase    string // normalized
	tokens    map[string]bool
	canonical string
	order     int
}

// Catalog resolves free text to a canonical activity definition.
// Three tiers: exact canonical match, exact alias match, then token-overlap
// fuzzy match over the whole corpus. Exact matches never misfire; fuzzy
// only engages for free-form schedule text.
type Catalog struct {
	defs    map[string]*ActivityDefinition // keyed by normalized name
	order   []string
	aliases map[string]string // normalized phrase -> canonical
	corpus  []corpusEntry

	fuzzyMinOverlap int
}

func NewCatalog(fuzzyMinOverlap int) *Catalog {
	if fuzzyMinOverlap < 1 {
		fuzzyMinOverlap = 1
	}
	return &Catalog{
		defs:            map[string]*ActivityDefinition{},
		aliases:         map[string]string{},
		fuzzyMinOverlap: fuzzyMinOverlap,
	}
}

func (c *Catalog) RegisterActivity(def ActivityDefinition) error {
	key := Normalize(def.Name)
	if key == "" {
		return fmt.Errorf("activity: empty name")
	}
	if _, ok := c.defs[key]; ok {
		return fmt.Errorf("activity %s: %w", def.Name, ErrDuplicateActivity)
	}
	c.defs[key] = &def
	c.order = append(c.order, key)
	// A canonical name is always also a valid lookup phrase for itself.
	c.corpus = append(c.corpus, corpusEntry{
		phrase:    key,
		tokens:    tokenSet(key),
		canonical: key,
		order:     len(c.corpus),
	})
	return nil
}

func (c *Catalog) RegisterAlias(phrase, canonicalName string) error {
	key := Normalize(canonicalName)
	if _, ok := c.defs[key]; !ok {
		return fmt.Errorf("alias %q -> %s: %w", phrase, canonicalName, ErrUnknownCanonicalActivity)
	}
	p := Normalize(phrase)
	if p == "" {
		return fmt.Errorf("alias for %s: empty phrase", canonicalName)
	}
	c.aliases[p] = key
	c.corpus = append(c.corpus, corpusEntry{
		phrase:    p,
		tokens:    tokenSet(p),
		canonical: key,
		order:     len(c.corpus),
	})
	return nil
}

// Get returns a definition by canonical name.
func (c *Catalog) Get(name string) (*ActivityDefinition, bool) {
	d, ok := c.defs[Normalize(name)]
	return d, ok
}

// All enumerates definitions in registration order.
func (c *Catalog) All() []*ActivityDefinition {
	out := make([]*ActivityDefinition, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.defs[k])
	}
	return out
}

// Resolve maps raw schedule text to a definition. Malformed or empty input
// returns ErrActivityUnresolved, never a panic.
func (c *Catalog) Resolve(rawText string) (*ActivityDefinition, error) {
	q := Normalize(rawText)
	if q == "" {
		return nil, fmt.Errorf("resolve %q: %w", rawText, ErrActivityUnresolved)
	}
	if d, ok := c.defs[q]; ok {
		return d, nil
	}
	if canonical, ok := c.aliases[q]; ok {
		return c.defs[canonical], nil
	}
	return c.resolveFuzzy(rawText, q)
}

// resolveFuzzy scores every corpus entry by how many query tokens it
// contains. Ties break by total matched span, then by registration order.
func (c *Catalog) resolveFuzzy(rawText, q string) (*ActivityDefinition, error) {
	qTokens := tokenize(q)
	if len(qTokens) == 0 {
		return nil, fmt.Errorf("resolve %q: %w", rawText, ErrActivityUnresolved)
	}
	threshold := c.fuzzyMinOverlap
	if threshold > len(qTokens) {
		threshold = len(qTokens)
	}

	best := -1
	bestScore, bestSpan := 0, 0
	for i, e := range c.corpus {
		score, span := 0, 0
		for _, t := range qTokens {
			if e.tokens[t] {
				score++
				span += len(t)
			}
		}
		if score < threshold {
			continue
		}
		if score > bestScore || (score == bestScore && span > bestSpan) {
			best, bestScore, bestSpan = i, score, span
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("resolve %q: %w", rawText, ErrActivityUnresolved)
	}
	return c.defs[c.corpus[best].canonical], nil
}

// Normalize lowercases and collapses interior whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func tokenize(normalized string) []string {
	if normalized == "" {
		return nil
	}
	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '_')
	})
	// De-duplicate while preserving order so repeated words don't inflate
	// the overlap score.
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func tokenSet(normalized string) map[string]bool {
	set := map[string]bool{}
	for _, t := range tokenize(normalized) {
		set[t] = true
	}
	return set
}
