package catalog

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/veldrane/eidolon/internal/apperr"
	"github.com/veldrane/eidolon/internal/models"
	"github.com/veldrane/eidolon/internal/store"
)

// Synchronizer keeps the catalog's mirror records consistent with the
// authoritative records they back-reference: at most one mirror per source,
// always living in the subfolder matching the source's current category.
type Synchronizer struct {
	store    store.Store
	logger   *slog.Logger
	rootName string
}

// NewSynchronizer creates a catalog synchronizer for the given root name.
func NewSynchronizer(st store.Store, logger *slog.Logger, rootName string) *Synchronizer {
	return &Synchronizer{store: st, logger: logger, rootName: rootName}
}

// Mirror upserts the read-view copy of a source record. An existing mirror
// (looked up by its back-reference) is moved when the category folder
// changed and then refreshed from the snapshot; otherwise a new mirror is
// created in that folder.
//
// A missing target folder is a returned error, never a silent no-op: the
// folder tree is repaired at session start, so its absence is a reportable
// inconsistency the caller must see.
func (s *Synchronizer) Mirror(snapshot models.Snapshot, sourceRef string, category models.Category) error {
	folder, err := s.categoryFolder(category)
	if err != nil {
		return err
	}

	existing, err := s.store.FindMirror(sourceRef)
	switch {
	case err == nil:
		return s.refresh(existing, snapshot, folder, category)
	case isNotFound(err):
		return s.create(snapshot, sourceRef, folder, category)
	default:
		return fmt.Errorf("catalog: find mirror: %w", err)
	}
}

// Remove deletes the mirror for a source record, if one exists.
func (s *Synchronizer) Remove(sourceRef string) error {
	existing, err := s.store.FindMirror(sourceRef)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("catalog: find mirror: %w", err)
	}
	if err := s.store.DeleteRecord(existing.ID); err != nil {
		return fmt.Errorf("catalog: delete mirror: %w", err)
	}
	return nil
}

func (s *Synchronizer) refresh(mirror *models.Record, snapshot models.Snapshot, folder *models.Folder, category models.Category) error {
	if mirror.FolderID != folder.ID {
		if err := s.store.MoveToFolder(mirror.ID, folder.ID); err != nil {
			return fmt.Errorf("catalog: relocate mirror: %w", err)
		}
		mirror.FolderID = folder.ID
		s.logger.Debug("catalog: relocated mirror",
			slog.String("source", mirror.Meta.SourceRef),
			slog.String("folder", folder.Name))
	}

	mirror.Name = snapshot.Name
	mirror.Meta.Image = snapshot.Image
	cat := category
	mirror.Meta.Category = &cat
	if err := s.store.UpdateRecord(mirror); err != nil {
		return fmt.Errorf("catalog: refresh mirror: %w", err)
	}
	return nil
}

func (s *Synchronizer) create(snapshot models.Snapshot, sourceRef string, folder *models.Folder, category models.Category) error {
	cat := category
	mirror := &models.Record{
		ID:       uuid.NewString(),
		Name:     snapshot.Name,
		Kind:     models.KindMirror,
		FolderID: folder.ID,
		Meta: models.Metadata{
			Category:  &cat,
			SourceRef: sourceRef,
			Image:     snapshot.Image,
			Extra:     snapshot.Extra,
		},
	}
	if err := s.store.CreateRecord(mirror); err != nil {
		return fmt.Errorf("catalog: create mirror: %w", err)
	}
	s.logger.Debug("catalog: created mirror",
		slog.String("source", sourceRef), slog.String("folder", folder.Name))
	return nil
}

// categoryFolder resolves the subfolder for a category under the root.
func (s *Synchronizer) categoryFolder(category models.Category) (*models.Folder, error) {
	folders, err := s.store.ListFolders()
	if err != nil {
		return nil, fmt.Errorf("catalog: list folders: %w", err)
	}

	var rootID string
	for _, f := range folders {
		if f.Name == s.rootName && f.ParentID == "" {
			rootID = f.ID
			break
		}
	}
	if rootID == "" {
		return nil, fmt.Errorf("catalog: root folder %q missing: %w", s.rootName, apperr.ErrNotFound)
	}

	want := category.FolderName()
	for _, f := range folders {
		if f.Name == want && f.ParentID == rootID {
			folder := f
			return &folder, nil
		}
	}
	return nil, fmt.Errorf("catalog: category folder %q missing: %w", want, apperr.ErrNotFound)
}

func isNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
