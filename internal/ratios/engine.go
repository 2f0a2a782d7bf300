// Package ratios computes how many of each item a set of players deposited
// into or withdrew from a set of areas, and caches the results.
package ratios

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"panoptes.zcraft.fr/internal/area"
	"panoptes.zcraft.fr/internal/identity"
	"panoptes.zcraft.fr/internal/locale"
	"panoptes.zcraft.fr/internal/persistence/prism"
)

// DefaultNamespace is prepended to material ids without a namespace.
const DefaultNamespace = "minecraft"

// ErrNoMatchingRegions is returned when the area selection matches no
// configured area.
var ErrNoMatchingRegions = errors.New("no matching areas")

// BackendError reports a failed store call.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return fmt.Sprintf("%s: backend: %v", e.Op, e.Err) }
func (e *BackendError) Unwrap() error { return e.Err }

// Store is the read side of the action log.
type Store interface {
	Ratios(ctx context.Context, areas area.Set, players identity.Set) ([]prism.MaterialRatio, error)
	RecentPlayers(ctx context.Context, filter string, limit int) ([]prism.Player, error)
}

// Ratio is the net quantity of one material.
type Ratio struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Ratio       int64  `json:"ratio"`
}

// Ratios is the aggregation result: the per-material detail, highest ratio
// first, and its total.
type Ratios struct {
	Global int64   `json:"global"`
	Detail []Ratio `json:"detail"`
}

// Engine runs aggregations against a Store.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Aggregate sums the items inserted minus the items removed inside any of
// areas, by players when players is not empty, and names each material with
// table. An empty area set is rejected without querying the store.
func (e *Engine) Aggregate(ctx context.Context, areas area.Set, players identity.Set, table *locale.Table) (Ratios, error) {
	if len(areas) == 0 {
		return Ratios{}, ErrNoMatchingRegions
	}
	rows, err := e.store.Ratios(ctx, areas, players)
	if err != nil {
		return Ratios{}, &BackendError{Op: "aggregate ratios", Err: err}
	}

	out := Ratios{Detail: make([]Ratio, 0, len(rows))}
	for _, r := range rows {
		out.Detail = append(out.Detail, Ratio{
			ID:          MaterialID(r.Material),
			DisplayName: table.Translate(translationKey(r.Material)),
			Ratio:       r.Ratio,
		})
		out.Global += r.Ratio
	}
	sort.SliceStable(out.Detail, func(i, j int) bool {
		if out.Detail[i].Ratio != out.Detail[j].Ratio {
			return out.Detail[i].Ratio > out.Detail[j].Ratio
		}
		return out.Detail[i].ID < out.Detail[j].ID
	})
	return out, nil
}

// MaterialID returns the namespaced form of a material: "dirt" becomes
// "minecraft:dirt", "mymod:ore" is unchanged.
func MaterialID(material string) string {
	if strings.Contains(material, ":") {
		return material
	}
	return DefaultNamespace + ":" + material
}

// translationKey is the language file key of a material. Only the default
// namespace is stripped; modded materials keep their namespace.
func translationKey(material string) string {
	return strings.TrimPrefix(material, DefaultNamespace+":")
}
