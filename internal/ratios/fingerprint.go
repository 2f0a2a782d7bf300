package ratios

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"panoptes.zcraft.fr/internal/area"
	"panoptes.zcraft.fr/internal/identity"
	"panoptes.zcraft.fr/internal/locale"
)

// Fingerprint derives the cache key of a ratios query. Area order does not
// matter, identities are expected in canonical order, and the locale table
// takes part in the key because display names differ between locales.
func Fingerprint(areas area.Set, players identity.Set, table *locale.Table) string {
	ids := areas.IDs()
	sort.Strings(ids)

	h := sha256.New()
	writeList(h, ids)
	writeList(h, players.Hex())
	writeField(h, table.Path())
	return hex.EncodeToString(h.Sum(nil))
}

// Each field is length-prefixed so that no two distinct inputs share an
// encoding.
func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

func writeList(h hash.Hash, items []string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(items)))
	h.Write(n[:])
	for _, s := range items {
		writeField(h, s)
	}
}

// playersKey is the cache key of a recent players listing.
func playersKey(filter string) string {
	h := sha256.New()
	writeField(h, filter)
	return hex.EncodeToString(h.Sum(nil))
}
