package store

import "github.com/veldrane/eidolon/internal/models"

// Store is the record-store interface the executor mutates. Consumers should
// depend on this interface rather than the concrete *DB type to facilitate
// testing with fakes.
//
// Methods that resolve a single document return apperr.ErrNotFound when it
// does not exist.
type Store interface {
	// Records.
	GetRecord(id string) (*models.Record, error)
	CreateRecord(r *models.Record) error
	UpdateRecord(r *models.Record) error
	DeleteRecord(id string) error
	ListRecordsByOwner(ownerID string) ([]models.Record, error)
	ListRecordsByContainer(containerID string) ([]models.Record, error)
	ListRecordsByFolder(folderID string) ([]models.Record, error)
	// FindContainer returns the owner's container record.
	FindContainer(ownerID string) (*models.Record, error)
	// FindMirror resolves a mirror by its source back-reference.
	FindMirror(sourceRef string) (*models.Record, error)
	// FindTemplate resolves an ownerless template record by name.
	FindTemplate(name string) (*models.Record, error)
	// SetFlag overwrites one free-form flag entry; absent records are a no-op.
	SetFlag(id, key string, value any) error
	// SetCategory updates the record's category flag (nil = uncategorized).
	SetCategory(id string, c *models.Category) error
	// MoveToFolder reparents a record into the given folder.
	MoveToFolder(id, folderID string) error

	// Owners and resource pools.
	GetOwner(id string) (*models.Owner, error)
	CreateOwner(o *models.Owner) error
	Pool(ownerID string, c models.Category) (int, error)
	SetPool(ownerID string, c models.Category, amount int) error
	// DecrementPool consumes one unit, failing with apperr.ErrExhausted when
	// the pool is empty or missing. The guard and the decrement are a single
	// statement, so the pool can never go negative.
	DecrementPool(ownerID string, c models.Category) error
	// IncrementPool restores one unit (fabricate compensation).
	IncrementPool(ownerID string, c models.Category) error

	// Catalog folders.
	CreateFolder(f *models.Folder) error
	DeleteFolder(id string) error
	ListFolders() ([]models.Folder, error)
	// FolderEmpty reports whether no record and no child folder references id.
	FolderEmpty(id string) (bool, error)

	// Category assignments. One row carries both lookup keys, so the ID index
	// and the name index are updated together by construction.
	GetAssignment(containerID, recordID string) (*models.Assignment, error)
	GetAssignmentByName(containerID, recordName string) (*models.Assignment, error)
	PutAssignment(a *models.Assignment) error
	DeleteAssignment(containerID, recordID string) error
	DeleteAssignmentByName(containerID, recordName string) error

	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
