package harvest

import (
	"encoding/binary"
	"hash/fnv"
	"strings"

	"github.com/google/uuid"
)

// KeyFor derives the stable store key for an external identifier.
//
// UUIDs are folded to 64 bits by XOR-ing their halves; anything else is hashed
// with FNV-1a. Folding can collide, so stores keep the external id next to the
// key and the cache writer rejects an insert whose key maps to another id.
func KeyFor(externalID string) int64 {
	id := strings.TrimSpace(externalID)
	if u, err := uuid.Parse(id); err == nil {
		hi := binary.BigEndian.Uint64(u[:8])
		lo := binary.BigEndian.Uint64(u[8:])
		return int64(hi ^ lo)
	}
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64())
}
