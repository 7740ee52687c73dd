// Package idmap derives stable destination identifiers from (collection, source id)
// pairs and persists the resulting mapping as audit output.
//
// Identifiers are name-based UUIDs: a per-collection namespace is derived from a
// fixed root namespace, then the source id is hashed under it with SHA-256 and the
// first 128 bits are tagged with version 5 and the RFC 4122 variant. The same
// input always yields the same identifier, across runs and machines, which is
// what makes re-running a load converge instead of duplicating rows.
package idmap

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/persistorai/docmigrate/internal/models"
)

// rootNamespace is fixed forever. Changing it re-keys every migrated row.
var rootNamespace = uuid.MustParse("6f1c2a9e-7b4d-5e38-9a41-0c3d8e5f2b17")

// DestinationID maps one (collection, sourceID) pair. It is pure and does not
// check for collisions; use a Builder for that.
func DestinationID(collection, sourceID string) uuid.UUID {
	ns := uuid.NewHash(sha256.New(), rootNamespace, []byte(collection), 5)
	return uuid.NewHash(sha256.New(), ns, []byte(sourceID), 5)
}

// Key identifies one source record.
type Key struct {
	Collection string `json:"collection"`
	SourceID   string `json:"source_id"`
}

// Builder accumulates a mapping. It is not safe for concurrent use; build the
// mapping once, then share the read-only Mapping it produces.
type Builder struct {
	hash    func(collection, sourceID string) uuid.UUID
	forward map[string]map[string]uuid.UUID
	reverse map[uuid.UUID]Key
	built   bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		hash:    DestinationID,
		forward: make(map[string]map[string]uuid.UUID),
		reverse: make(map[uuid.UUID]Key),
	}
}

// Add maps one pair. Re-adding the same pair is a no-op. Two distinct pairs
// landing on the same identifier fail with models.ErrIDCollision.
func (b *Builder) Add(collection, sourceID string) (uuid.UUID, error) {
	if b.built {
		return uuid.Nil, fmt.Errorf("idmap: mapping already built")
	}

	if sourceID == "" {
		return uuid.Nil, models.ErrMissingSourceID
	}

	if id, ok := b.forward[collection][sourceID]; ok {
		return id, nil
	}

	id := b.hash(collection, sourceID)

	if prev, ok := b.reverse[id]; ok {
		return uuid.Nil, fmt.Errorf("%w: %s/%s and %s/%s both map to %s",
			models.ErrIDCollision, prev.Collection, prev.SourceID, collection, sourceID, id)
	}

	if b.forward[collection] == nil {
		b.forward[collection] = make(map[string]uuid.UUID)
	}

	b.forward[collection][sourceID] = id
	b.reverse[id] = Key{Collection: collection, SourceID: sourceID}

	return id, nil
}

// AddDocuments maps every document that carries a source id. Documents without
// one are left for the transformer to reject.
func (b *Builder) AddDocuments(docs []models.SourceDocument) error {
	for i := range docs {
		if docs[i].SourceID == "" {
			continue
		}

		if _, err := b.Add(docs[i].Collection, docs[i].SourceID); err != nil {
			return err
		}
	}

	return nil
}

// Build freezes the builder and returns the read-only mapping.
func (b *Builder) Build() *Mapping {
	b.built = true

	return &Mapping{forward: b.forward, reverse: b.reverse}
}

// Mapping is the frozen identifier mapping. All methods are read-only and safe
// for concurrent use.
type Mapping struct {
	forward map[string]map[string]uuid.UUID
	reverse map[uuid.UUID]Key
}

// Lookup returns the destination id for a source record.
func (m *Mapping) Lookup(collection, sourceID string) (uuid.UUID, bool) {
	id, ok := m.forward[collection][sourceID]
	return id, ok
}

// Resolve maps a destination id back to its source record.
func (m *Mapping) Resolve(id uuid.UUID) (Key, bool) {
	k, ok := m.reverse[id]
	return k, ok
}

// Len returns the total number of mapped records.
func (m *Mapping) Len() int {
	return len(m.reverse)
}

// CollectionLen returns the number of mapped records in one collection.
func (m *Mapping) CollectionLen(collection string) int {
	return len(m.forward[collection])
}

// Collections returns the mapped collection names, sorted.
func (m *Mapping) Collections() []string {
	out := make([]string, 0, len(m.forward))
	for c := range m.forward {
		out = append(out, c)
	}

	sort.Strings(out)

	return out
}

// Entry is one flattened mapping row.
type Entry struct {
	Collection    string
	SourceID      string
	DestinationID uuid.UUID
}

// Entries returns every mapping row ordered by collection then source id.
func (m *Mapping) Entries() []Entry {
	out := make([]Entry, 0, len(m.reverse))

	for _, c := range m.Collections() {
		ids := make([]string, 0, len(m.forward[c]))
		for sid := range m.forward[c] {
			ids = append(ids, sid)
		}

		sort.Strings(ids)

		for _, sid := range ids {
			out = append(out, Entry{Collection: c, SourceID: sid, DestinationID: m.forward[c][sid]})
		}
	}

	return out
}
