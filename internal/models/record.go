// Package models defines the domain types for Eidolon.
package models

import "time"

// Record kinds stored in the record store.
const (
	KindBlueprint = "blueprint"
	KindContainer = "container"
	KindMirror    = "mirror"
	KindDerived   = "derived"
)

// Record is an item-like document in the record store. Containers, mirrors,
// and temporary derived records are all records distinguished by Kind and
// metadata. OwnerID, ContainerID, and FolderID are empty when unset.
type Record struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	OwnerID     string    `json:"owner_id,omitempty"`
	ContainerID string    `json:"container_id,omitempty"`
	FolderID    string    `json:"folder_id,omitempty"`
	Meta        Metadata  `json:"meta"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Metadata is the typed flag set attached to a record, kept in a private
// namespace so it never collides with unrelated document fields. Named
// optional fields replace the open flag map of loosely-typed stores.
type Metadata struct {
	// Category is the record's assigned category; nil means uncategorized
	// for blueprints and "not category-bearing" for everything else.
	Category *Category `json:"category,omitempty"`
	// SourceRef back-references the source record on a mirror.
	SourceRef string `json:"source_ref,omitempty"`
	// OriginRef back-references the container a derived record was
	// fabricated from; recall verifies it before deleting.
	OriginRef string `json:"origin_ref,omitempty"`
	// Temporary marks fabricated derived records.
	Temporary bool `json:"temporary,omitempty"`
	// Image is an opaque display asset reference.
	Image string `json:"image,omitempty"`
	// Extra carries free-form flags set via the set-flag operation.
	Extra map[string]any `json:"extra,omitempty"`
}

// Owner is an actor-like document holding records, at most one container,
// and a per-category resource pool.
type Owner struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Folder is a node in the catalog folder tree. ParentID is empty for root
// candidates.
type Folder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// Assignment records a blueprint's category on its container. A single row
// carries both lookup keys (record ID, authoritative; record name, fallback),
// so the two indices can never disagree or be updated partially.
type Assignment struct {
	ContainerID string   `json:"container_id"`
	RecordID    string   `json:"record_id"`
	RecordName  string   `json:"record_name"`
	Category    Category `json:"category"`
}

// Snapshot is the serialized source payload carried by a mirror request:
// just enough of the source record to render its read-view copy.
type Snapshot struct {
	Name  string         `json:"name"`
	Image string         `json:"image,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}
