package catalogs

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrDuplicateLocation = errors.New("duplicate location")
	ErrLocationNotFound  = errors.New("location not found")
)

// LocationRecord is a named place with semantic tags. Immutable once the
// registry is sealed into a Catalogs value.
type LocationRecord struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	X    int      `json:"x"`
	Y    int      `json:"y"`
	Tags []string `json:"tags"`

	tagSet map[string]bool
}

func (r *LocationRecord) HasTag(tag string) bool {
	return r.tagSet[tag]
}

// Registry answers "which place best matches these tags, nearest to here".
// Read-only after startup; shared by all agents without locking.
type Registry struct {
	byID  map[string]*LocationRecord
	order []string // ids, ascending; the deterministic iteration order
}

func NewRegistry() *Registry {
	return &Registry{byID: map[string]*LocationRecord{}}
}

func (g *Registry) Register(rec LocationRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("location: empty id")
	}
	if _, ok := g.byID[rec.ID]; ok {
		return fmt.Errorf("location %s: %w", rec.ID, ErrDuplicateLocation)
	}
	rec.tagSet = make(map[string]bool, len(rec.Tags))
	for _, t := range rec.Tags {
		rec.tagSet[t] = true
	}
	g.byID[rec.ID] = &rec

	i := sort.SearchStrings(g.order, rec.ID)
	g.order = append(g.order, "")
	copy(g.order[i+1:], g.order[i:])
	g.order[i] = rec.ID
	return nil
}

func (g *Registry) Get(id string) (*LocationRecord, bool) {
	r, ok := g.byID[id]
	return r, ok
}

// All enumerates records in ascending id order.
func (g *Registry) All() []*LocationRecord {
	out := make([]*LocationRecord, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.byID[id])
	}
	return out
}

func (g *Registry) Len() int { return len(g.order) }

type scored struct {
	rec     *LocationRecord
	overlap int
	dist    float64
}

// FindBestMatch returns the record with the highest tag-overlap count.
// Ties break by ascending Euclidean distance from the origin, then by id
// order, so repeated calls with the same inputs always agree.
func (g *Registry) FindBestMatch(tags []string, originX, originY int) (*LocationRecord, error) {
	ranked := g.rank(tags, originX, originY, 1)
	if len(ranked) == 0 {
		return nil, ErrLocationNotFound
	}
	return ranked[0], nil
}

// FindRanked returns up to limit candidates in best-match order, for
// fallback selection. limit <= 0 means all matching records.
func (g *Registry) FindRanked(tags []string, originX, originY int, limit int) []*LocationRecord {
	return g.rank(tags, originX, originY, limit)
}

func (g *Registry) rank(tags []string, originX, originY int, limit int) []*LocationRecord {
	if len(tags) == 0 {
		return nil
	}
	query := make(map[string]bool, len(tags))
	for _, t := range tags {
		query[t] = true
	}

	cands := make([]scored, 0, len(g.order))
	for _, id := range g.order {
		rec := g.byID[id]
		overlap := 0
		for t := range query {
			if rec.tagSet[t] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		dx := float64(rec.X - originX)
		dy := float64(rec.Y - originY)
		cands = append(cands, scored{rec: rec, overlap: overlap, dist: math.Hypot(dx, dy)})
	}
	// Candidates were gathered in id order, so a stable sort keeps the id
	// tie-break without comparing ids explicitly.
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].overlap != cands[j].overlap {
			return cands[i].overlap > cands[j].overlap
		}
		return cands[i].dist < cands[j].dist
	})
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]*LocationRecord, len(cands))
	for i, c := range cands {
		out[i] = c.rec
	}
	return out
}

// ResolveName reports the id of the registered location at or nearest to
// (x, y) within the given radius. Used by the movement system to name the
// place an agent arrived at.
func (g *Registry) ResolveName(x, y int, radius int) (string, bool) {
	bestID := ""
	bestDist := math.MaxFloat64
	for _, id := range g.order {
		rec := g.byID[id]
		dx := float64(rec.X - x)
		dy := float64(rec.Y - y)
		d := math.Hypot(dx, dy)
		if d <= float64(radius) && d < bestDist {
			bestDist = d
			bestID = id
		}
	}
	return bestID, bestID != ""
}
