package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/veldrane/eidolon/internal/apperr"
	"github.com/veldrane/eidolon/internal/models"
)

const recordColumns = `id, name, kind, owner_id, container_id, folder_id,
	category, source_ref, origin_ref, temporary, image, extra, created_at, updated_at`

// nullable maps empty strings to NULL so optional references stay queryable
// with IS NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableCategory(c *models.Category) any {
	if c == nil {
		return nil
	}
	return int(*c)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		r         models.Record
		ownerID   sql.NullString
		container sql.NullString
		folderID  sql.NullString
		category  sql.NullInt64
		sourceRef sql.NullString
		originRef sql.NullString
		temporary int
		extraJSON string
	)
	err := row.Scan(&r.ID, &r.Name, &r.Kind, &ownerID, &container, &folderID,
		&category, &sourceRef, &originRef, &temporary, &r.Meta.Image, &extraJSON,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.OwnerID = ownerID.String
	r.ContainerID = container.String
	r.FolderID = folderID.String
	if category.Valid {
		c := models.Category(category.Int64)
		r.Meta.Category = &c
	}
	r.Meta.SourceRef = sourceRef.String
	r.Meta.OriginRef = originRef.String
	r.Meta.Temporary = temporary != 0
	if extraJSON != "" && extraJSON != "{}" {
		if err := json.Unmarshal([]byte(extraJSON), &r.Meta.Extra); err != nil {
			return nil, fmt.Errorf("store: decode extra flags: %w", err)
		}
	}
	return &r, nil
}

// GetRecord resolves a record by identifier.
func (db *DB) GetRecord(id string) (*models.Record, error) {
	row := db.conn.QueryRow(`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get record: %w", err)
	}
	return r, nil
}

// CreateRecord inserts a new record. Timestamps default to now when unset.
func (db *DB) CreateRecord(r *models.Record) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	extraJSON, err := json.Marshal(orEmpty(r.Meta.Extra))
	if err != nil {
		return fmt.Errorf("store: encode extra flags: %w", err)
	}
	_, err = db.conn.Exec(`
		INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Kind, nullable(r.OwnerID), nullable(r.ContainerID),
		nullable(r.FolderID), nullableCategory(r.Meta.Category),
		nullable(r.Meta.SourceRef), nullable(r.Meta.OriginRef),
		boolInt(r.Meta.Temporary), r.Meta.Image, string(extraJSON),
		r.CreatedAt, r.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("store: record %s: %w", r.ID, apperr.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("store: create record: %w", err)
	}
	return nil
}

// UpdateRecord replaces every mutable field of an existing record.
func (db *DB) UpdateRecord(r *models.Record) error {
	extraJSON, err := json.Marshal(orEmpty(r.Meta.Extra))
	if err != nil {
		return fmt.Errorf("store: encode extra flags: %w", err)
	}
	r.UpdatedAt = time.Now().UTC()
	res, err := db.conn.Exec(`
		UPDATE records SET
			name = ?, kind = ?, owner_id = ?, container_id = ?, folder_id = ?,
			category = ?, source_ref = ?, origin_ref = ?, temporary = ?,
			image = ?, extra = ?, updated_at = ?
		WHERE id = ?`,
		r.Name, r.Kind, nullable(r.OwnerID), nullable(r.ContainerID),
		nullable(r.FolderID), nullableCategory(r.Meta.Category),
		nullable(r.Meta.SourceRef), nullable(r.Meta.OriginRef),
		boolInt(r.Meta.Temporary), r.Meta.Image, string(extraJSON),
		r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("store: update record: %w", err)
	}
	return noRowsAsNotFound(res)
}

// DeleteRecord removes a record by identifier.
func (db *DB) DeleteRecord(id string) error {
	res, err := db.conn.Exec(`DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete record: %w", err)
	}
	return noRowsAsNotFound(res)
}

func (db *DB) listRecords(where string, args ...any) ([]models.Record, error) {
	rows, err := db.conn.Query(`SELECT `+recordColumns+` FROM records WHERE `+where+` ORDER BY created_at, rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list records: %w", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListRecordsByOwner returns every record held by the owner.
func (db *DB) ListRecordsByOwner(ownerID string) ([]models.Record, error) {
	return db.listRecords(`owner_id = ?`, ownerID)
}

// ListRecordsByContainer returns every record parented to the container.
func (db *DB) ListRecordsByContainer(containerID string) ([]models.Record, error) {
	return db.listRecords(`container_id = ?`, containerID)
}

// ListRecordsByFolder returns every record living in the catalog folder.
func (db *DB) ListRecordsByFolder(folderID string) ([]models.Record, error) {
	return db.listRecords(`folder_id = ?`, folderID)
}

// FindContainer returns the owner's container record (oldest wins when the
// check-then-create discipline has been violated upstream).
func (db *DB) FindContainer(ownerID string) (*models.Record, error) {
	row := db.conn.QueryRow(`SELECT `+recordColumns+` FROM records
		WHERE owner_id = ? AND kind = ? ORDER BY created_at, rowid LIMIT 1`,
		ownerID, models.KindContainer)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find container: %w", err)
	}
	return r, nil
}

// FindMirror resolves the mirror whose back-reference names sourceRef.
func (db *DB) FindMirror(sourceRef string) (*models.Record, error) {
	row := db.conn.QueryRow(`SELECT `+recordColumns+` FROM records
		WHERE kind = ? AND source_ref = ? ORDER BY created_at, rowid LIMIT 1`,
		models.KindMirror, sourceRef)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find mirror: %w", err)
	}
	return r, nil
}

// FindTemplate resolves an ownerless template record by name.
func (db *DB) FindTemplate(name string) (*models.Record, error) {
	row := db.conn.QueryRow(`SELECT `+recordColumns+` FROM records
		WHERE owner_id IS NULL AND name = ? ORDER BY created_at, rowid LIMIT 1`, name)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find template: %w", err)
	}
	return r, nil
}

// SetFlag overwrites one entry in the record's free-form flag map. Setting a
// flag on an absent record is a no-op.
func (db *DB) SetFlag(id, key string, value any) error {
	r, err := db.GetRecord(id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if r.Meta.Extra == nil {
		r.Meta.Extra = map[string]any{}
	}
	r.Meta.Extra[key] = value
	extraJSON, err := json.Marshal(r.Meta.Extra)
	if err != nil {
		return fmt.Errorf("store: encode extra flags: %w", err)
	}
	_, err = db.conn.Exec(`UPDATE records SET extra = ?, updated_at = ? WHERE id = ?`,
		string(extraJSON), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: set flag: %w", err)
	}
	return nil
}

// SetCategory updates the record's category flag; nil clears it.
func (db *DB) SetCategory(id string, c *models.Category) error {
	res, err := db.conn.Exec(`UPDATE records SET category = ?, updated_at = ? WHERE id = ?`,
		nullableCategory(c), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: set category: %w", err)
	}
	return noRowsAsNotFound(res)
}

// MoveToFolder reparents a record into the given catalog folder.
func (db *DB) MoveToFolder(id, folderID string) error {
	res, err := db.conn.Exec(`UPDATE records SET folder_id = ?, updated_at = ? WHERE id = ?`,
		nullable(folderID), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: move to folder: %w", err)
	}
	return noRowsAsNotFound(res)
}

// GetOwner resolves an owner by identifier.
func (db *DB) GetOwner(id string) (*models.Owner, error) {
	var o models.Owner
	err := db.conn.QueryRow(`SELECT id, name, created_at FROM owners WHERE id = ?`, id).
		Scan(&o.ID, &o.Name, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get owner: %w", err)
	}
	return &o, nil
}

// CreateOwner inserts a new owner document.
func (db *DB) CreateOwner(o *models.Owner) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(`INSERT INTO owners (id, name, created_at) VALUES (?, ?, ?)`,
		o.ID, o.Name, o.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("store: owner %s: %w", o.ID, apperr.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("store: create owner: %w", err)
	}
	return nil
}

// Pool returns the owner's remaining units for a category; missing rows are 0.
func (db *DB) Pool(ownerID string, c models.Category) (int, error) {
	var amount int
	err := db.conn.QueryRow(`SELECT amount FROM pools WHERE owner_id = ? AND category = ?`,
		ownerID, int(c)).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: pool: %w", err)
	}
	return amount, nil
}

// SetPool sets the owner's pool for a category to an absolute amount.
func (db *DB) SetPool(ownerID string, c models.Category, amount int) error {
	_, err := db.conn.Exec(`
		INSERT INTO pools (owner_id, category, amount) VALUES (?, ?, ?)
		ON CONFLICT(owner_id, category) DO UPDATE SET amount = excluded.amount`,
		ownerID, int(c), amount)
	if err != nil {
		return fmt.Errorf("store: set pool: %w", err)
	}
	return nil
}

// DecrementPool consumes one unit. The amount guard lives in the statement,
// so the pool can never go negative even under concurrent callers.
func (db *DB) DecrementPool(ownerID string, c models.Category) error {
	res, err := db.conn.Exec(`UPDATE pools SET amount = amount - 1
		WHERE owner_id = ? AND category = ? AND amount > 0`, ownerID, int(c))
	if err != nil {
		return fmt.Errorf("store: decrement pool: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: decrement pool: %w", err)
	}
	if n == 0 {
		return apperr.ErrExhausted
	}
	return nil
}

// IncrementPool restores one unit, creating the row if needed.
func (db *DB) IncrementPool(ownerID string, c models.Category) error {
	_, err := db.conn.Exec(`
		INSERT INTO pools (owner_id, category, amount) VALUES (?, ?, 1)
		ON CONFLICT(owner_id, category) DO UPDATE SET amount = amount + 1`,
		ownerID, int(c))
	if err != nil {
		return fmt.Errorf("store: increment pool: %w", err)
	}
	return nil
}

// CreateFolder inserts a catalog folder.
func (db *DB) CreateFolder(f *models.Folder) error {
	_, err := db.conn.Exec(`INSERT INTO folders (id, name, parent_id) VALUES (?, ?, ?)`,
		f.ID, f.Name, nullable(f.ParentID))
	if err != nil {
		return fmt.Errorf("store: create folder: %w", err)
	}
	return nil
}

// DeleteFolder removes a catalog folder.
func (db *DB) DeleteFolder(id string) error {
	res, err := db.conn.Exec(`DELETE FROM folders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete folder: %w", err)
	}
	return noRowsAsNotFound(res)
}

// ListFolders returns every catalog folder in creation order.
func (db *DB) ListFolders() ([]models.Folder, error) {
	rows, err := db.conn.Query(`SELECT id, name, parent_id FROM folders ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("store: list folders: %w", err)
	}
	defer rows.Close()

	var out []models.Folder
	for rows.Next() {
		var f models.Folder
		var parent sql.NullString
		if err := rows.Scan(&f.ID, &f.Name, &parent); err != nil {
			return nil, fmt.Errorf("store: scan folder: %w", err)
		}
		f.ParentID = parent.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// FolderEmpty reports whether the folder holds no record and no child folder.
func (db *DB) FolderEmpty(id string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`SELECT
		(SELECT COUNT(*) FROM records WHERE folder_id = ?) +
		(SELECT COUNT(*) FROM folders WHERE parent_id = ?)`, id, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: folder empty: %w", err)
	}
	return n == 0, nil
}

// GetAssignment resolves a category assignment by the authoritative key.
func (db *DB) GetAssignment(containerID, recordID string) (*models.Assignment, error) {
	return db.getAssignment(`container_id = ? AND record_id = ?`, containerID, recordID)
}

// GetAssignmentByName resolves an assignment by the name fallback key. Names
// are not unique, so the oldest row wins; callers must treat this as a
// fallback only, never authoritative.
func (db *DB) GetAssignmentByName(containerID, recordName string) (*models.Assignment, error) {
	return db.getAssignment(`container_id = ? AND record_name = ?`, containerID, recordName)
}

func (db *DB) getAssignment(where string, args ...any) (*models.Assignment, error) {
	var a models.Assignment
	err := db.conn.QueryRow(`SELECT container_id, record_id, record_name, category
		FROM assignments WHERE `+where+` ORDER BY rowid LIMIT 1`, args...).
		Scan(&a.ContainerID, &a.RecordID, &a.RecordName, &a.Category)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get assignment: %w", err)
	}
	return &a, nil
}

// PutAssignment upserts an assignment keyed by (container, record).
func (db *DB) PutAssignment(a *models.Assignment) error {
	_, err := db.conn.Exec(`
		INSERT INTO assignments (container_id, record_id, record_name, category)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(container_id, record_id) DO UPDATE SET
			record_name = excluded.record_name,
			category    = excluded.category`,
		a.ContainerID, a.RecordID, a.RecordName, int(a.Category))
	if err != nil {
		return fmt.Errorf("store: put assignment: %w", err)
	}
	return nil
}

// DeleteAssignment removes an assignment by the authoritative key.
func (db *DB) DeleteAssignment(containerID, recordID string) error {
	_, err := db.conn.Exec(`DELETE FROM assignments WHERE container_id = ? AND record_id = ?`,
		containerID, recordID)
	if err != nil {
		return fmt.Errorf("store: delete assignment: %w", err)
	}
	return nil
}

// DeleteAssignmentByName removes assignments by the name fallback key.
func (db *DB) DeleteAssignmentByName(containerID, recordName string) error {
	_, err := db.conn.Exec(`DELETE FROM assignments WHERE container_id = ? AND record_name = ?`,
		containerID, recordName)
	if err != nil {
		return fmt.Errorf("store: delete assignment by name: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite primary-key or unique
// constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func noRowsAsNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
