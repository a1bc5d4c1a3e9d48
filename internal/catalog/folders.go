// Package catalog maintains the category folder tree and the one-mirror-per
// record invariant of the read-oriented catalog view.
package catalog

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/veldrane/eidolon/internal/apperr"
	"github.com/veldrane/eidolon/internal/models"
	"github.com/veldrane/eidolon/internal/store"
)

// Manager builds and repairs the fixed category folder tree: one root folder
// (by well-known name) containing one subfolder per category value.
type Manager struct {
	store    store.Store
	logger   *slog.Logger
	rootName string
}

// NewManager creates a folder manager for the given catalog root name.
func NewManager(st store.Store, logger *slog.Logger, rootName string) *Manager {
	return &Manager{store: st, logger: logger, rootName: rootName}
}

// Repair locates or creates the root folder and its ten category subfolders,
// deleting empty duplicates beyond the first and sweeping empty orphans that
// share a category name but live outside the root. It runs once per session
// by the elected executor, before any mirror operation.
//
// This is a repair pass, not a hard guarantee: only folders with zero
// content are ever deleted, so a duplicate holding live data is left for
// manual resolution. Running it twice produces the same folder set as
// running it once.
func (m *Manager) Repair() error {
	folders, err := m.store.ListFolders()
	if err != nil {
		return fmt.Errorf("catalog: list folders: %w", err)
	}

	root, err := m.ensureRoot(folders)
	if err != nil {
		return err
	}

	// Re-list after the root pass so duplicate deletions are reflected.
	folders, err = m.store.ListFolders()
	if err != nil {
		return fmt.Errorf("catalog: list folders: %w", err)
	}

	categoryNames := make(map[string]bool, 10)
	for _, name := range models.CategoryFolderNames() {
		categoryNames[name] = true
		if err := m.ensureSubfolder(folders, root.ID, name); err != nil {
			return err
		}
	}

	// Orphan sweep: folders carrying a category name outside the root.
	for _, f := range folders {
		if !categoryNames[f.Name] || f.ParentID == root.ID {
			continue
		}
		m.deleteIfEmpty(f, "orphan")
	}

	return nil
}

// RootFolder returns the current catalog root, or apperr.ErrNotFound when
// Repair has not run yet.
func (m *Manager) RootFolder() (*models.Folder, error) {
	folders, err := m.store.ListFolders()
	if err != nil {
		return nil, fmt.Errorf("catalog: list folders: %w", err)
	}
	for _, f := range folders {
		if f.Name == m.rootName && f.ParentID == "" {
			root := f
			return &root, nil
		}
	}
	return nil, fmt.Errorf("catalog: root folder %q: %w", m.rootName, apperr.ErrNotFound)
}

// ensureRoot keeps the first root candidate, deletes empty later candidates,
// and creates the root when no candidate exists.
func (m *Manager) ensureRoot(folders []models.Folder) (*models.Folder, error) {
	var root *models.Folder
	for i := range folders {
		f := folders[i]
		if f.Name != m.rootName || f.ParentID != "" {
			continue
		}
		if root == nil {
			root = &f
			continue
		}
		// Non-empty duplicates are left for manual resolution.
		m.deleteIfEmpty(f, "duplicate root")
	}
	if root != nil {
		return root, nil
	}

	root = &models.Folder{ID: uuid.NewString(), Name: m.rootName}
	if err := m.store.CreateFolder(root); err != nil {
		return nil, fmt.Errorf("catalog: create root folder: %w", err)
	}
	m.logger.Info("catalog: created root folder", slog.String("name", m.rootName))
	return root, nil
}

// ensureSubfolder keeps the first subfolder with the given name under root,
// deletes empty duplicates beyond it, and creates the subfolder when absent.
func (m *Manager) ensureSubfolder(folders []models.Folder, rootID, name string) error {
	var kept *models.Folder
	for i := range folders {
		f := folders[i]
		if f.Name != name || f.ParentID != rootID {
			continue
		}
		if kept == nil {
			kept = &f
			continue
		}
		m.deleteIfEmpty(f, "duplicate subfolder")
	}
	if kept != nil {
		return nil
	}

	sub := &models.Folder{ID: uuid.NewString(), Name: name, ParentID: rootID}
	if err := m.store.CreateFolder(sub); err != nil {
		return fmt.Errorf("catalog: create subfolder %q: %w", name, err)
	}
	m.logger.Debug("catalog: created subfolder", slog.String("name", name))
	return nil
}

// deleteIfEmpty removes a stray folder when it holds no record and no child
// folder. "Empty" is checked at deletion time so live data is never lost.
func (m *Manager) deleteIfEmpty(f models.Folder, why string) {
	empty, err := m.store.FolderEmpty(f.ID)
	if err != nil {
		m.logger.Warn("catalog: empty check failed",
			slog.String("folder", f.Name), slog.String("error", err.Error()))
		return
	}
	if !empty {
		m.logger.Warn("catalog: keeping non-empty stray folder",
			slog.String("folder", f.Name), slog.String("reason", why))
		return
	}
	if err := m.store.DeleteFolder(f.ID); err != nil {
		m.logger.Warn("catalog: delete failed",
			slog.String("folder", f.Name), slog.String("error", err.Error()))
		return
	}
	m.logger.Debug("catalog: removed empty folder",
		slog.String("folder", f.Name), slog.String("reason", why))
}
