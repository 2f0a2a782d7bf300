// Package area models the queryable regions of the server: axis-aligned
// boxes inside a named world, declared once in configuration.
package area

import (
	"fmt"
	"sort"
	"strings"
)

// Vec3 is a block position (x, y, z).
type Vec3 [3]int64

// Area is an axis-aligned box inside a world. LowCorner is component-wise
// lower than or equal to HighCorner.
type Area struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	World      string `json:"world"`
	LowCorner  Vec3   `json:"low_corner"`
	HighCorner Vec3   `json:"high_corner"`
}

// Normalize returns the box spanned by two arbitrary corners. The order of
// the corners does not matter.
func Normalize(a, b Vec3) (low, high Vec3) {
	for axis := 0; axis < 3; axis++ {
		low[axis] = min(a[axis], b[axis])
		high[axis] = max(a[axis], b[axis])
	}
	return low, high
}

// New builds an Area from two corners in any order.
func New(id, name, world string, pos1, pos2 Vec3) Area {
	low, high := Normalize(pos1, pos2)
	return Area{
		ID:         id,
		Name:       name,
		World:      world,
		LowCorner:  low,
		HighCorner: high,
	}
}

// Contains reports whether a block position in world lies inside the box,
// both corners included.
func (a Area) Contains(world string, p Vec3) bool {
	if world != a.World {
		return false
	}
	for axis := 0; axis < 3; axis++ {
		if p[axis] < a.LowCorner[axis] || p[axis] > a.HighCorner[axis] {
			return false
		}
	}
	return true
}

func (a Area) String() string {
	return fmt.Sprintf("%s(%s %v..%v)", a.ID, a.World, a.LowCorner, a.HighCorner)
}

// Set is a list of areas sorted by id.
type Set []Area

// IDs returns the area ids in order.
func (s Set) IDs() []string {
	out := make([]string, 0, len(s))
	for _, a := range s {
		out = append(out, a.ID)
	}
	return out
}

// Selection is either "all areas" or an explicit set of ids.
type Selection struct {
	all bool
	ids map[string]struct{}
}

// All selects every registered area.
func All() Selection { return Selection{all: true} }

// Only selects the given ids. Duplicates and order are irrelevant.
func Only(ids ...string) Selection {
	s := Selection{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// ParseSelection reads the query-string form: a comma-separated list of
// ids. An absent parameter selects all areas.
func ParseSelection(raw string, present bool) Selection {
	if !present {
		return All()
	}
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return Only(ids...)
}

func (s Selection) has(id string) bool {
	if s.all {
		return true
	}
	_, ok := s.ids[id]
	return ok
}

// Registry is the read-only collection of configured areas, keyed by id.
// It is built once at startup and safe for concurrent readers.
type Registry struct {
	byID  map[string]Area
	order []string
}

// NewRegistry indexes areas by id. Duplicate ids are rejected.
func NewRegistry(areas ...Area) (*Registry, error) {
	r := &Registry{byID: make(map[string]Area, len(areas))}
	for _, a := range areas {
		if strings.TrimSpace(a.ID) == "" {
			return nil, fmt.Errorf("area id must not be empty")
		}
		if _, dup := r.byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate area id: %s", a.ID)
		}
		r.byID[a.ID] = a
		r.order = append(r.order, a.ID)
	}
	sort.Strings(r.order)
	return r, nil
}

// Len returns the number of registered areas.
func (r *Registry) Len() int { return len(r.order) }

// Get returns the area with the given id.
func (r *Registry) Get(id string) (Area, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// Map returns a copy of the registry keyed by id.
func (r *Registry) Map() map[string]Area {
	out := make(map[string]Area, len(r.byID))
	for id, a := range r.byID {
		out[id] = a
	}
	return out
}

// Filter returns the registered areas matching sel, sorted by id. Unknown
// ids in an explicit selection are dropped silently.
func (r *Registry) Filter(sel Selection) Set {
	out := make(Set, 0, len(r.order))
	for _, id := range r.order {
		if sel.has(id) {
			out = append(out, r.byID[id])
		}
	}
	return out
}
