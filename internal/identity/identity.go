// Package identity canonicalizes requested player identifiers.
package identity

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidIdentity is returned when a token is not a valid UUID.
var ErrInvalidIdentity = errors.New("invalid identity")

// Set is a sorted, duplicate-free list of player UUIDs. The zero value is
// the empty set, meaning "no identity restriction".
type Set []uuid.UUID

// Canonicalize parses every token as a UUID (hyphenated or simple hex form),
// then sorts ascending and removes duplicates. A single malformed token
// fails the whole set.
func Canonicalize(raw []string) (Set, error) {
	out := make(Set, 0, len(raw))
	for _, tok := range raw {
		tok = strings.TrimSpace(tok)
		id, err := uuid.Parse(tok)
		if err != nil || (len(tok) != 32 && len(tok) != 36) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidIdentity, tok)
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	uniq := out[:0]
	for _, id := range out {
		if len(uniq) > 0 && id == uniq[len(uniq)-1] {
			continue
		}
		uniq = append(uniq, id)
	}
	return uniq, nil
}

// Parse reads the query-string form: a comma-separated list. An absent or
// empty parameter yields the empty set.
func Parse(raw string) (Set, error) {
	if strings.TrimSpace(raw) == "" {
		return Set{}, nil
	}
	return Canonicalize(strings.Split(raw, ","))
}

// Hex returns the fixed lowercase 32-character form of each identity.
func (s Set) Hex() []string {
	out := make([]string, 0, len(s))
	for _, id := range s {
		out = append(out, strings.ReplaceAll(id.String(), "-", ""))
	}
	return out
}

// Bytes returns the 16-byte binary form of each identity, as Prism stores
// player_uuid.
func (s Set) Bytes() [][]byte {
	out := make([][]byte, 0, len(s))
	for _, id := range s {
		b := id
		out = append(out, b[:])
	}
	return out
}

// Strings returns the hyphenated form of each identity.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for _, id := range s {
		out = append(out, id.String())
	}
	return out
}
