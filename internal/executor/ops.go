package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/veldrane/eidolon/internal/apperr"
	"github.com/veldrane/eidolon/internal/models"
)

// EnsureContainer returns the owner's container, cloning the canonical
// container template when the owner has none. Safe to call repeatedly: the
// check-then-create discipline keeps at most one container per owner.
func (e *Executor) EnsureContainer(_ context.Context, ownerID string) (string, error) {
	if _, err := e.store.GetOwner(ownerID); err != nil {
		return "", fmt.Errorf("ensure-container: owner %s: %w", ownerID, err)
	}

	existing, err := e.store.FindContainer(ownerID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return "", fmt.Errorf("ensure-container: %w", err)
	}

	tmpl, err := e.store.FindTemplate(e.templateName)
	if err != nil {
		return "", fmt.Errorf("ensure-container: template %q: %w", e.templateName, err)
	}

	// Clone the template, stripping identity and location fields.
	container := &models.Record{
		ID:      newID(),
		Name:    tmpl.Name,
		Kind:    models.KindContainer,
		OwnerID: ownerID,
		Meta: models.Metadata{
			Image: tmpl.Meta.Image,
			Extra: copyExtra(tmpl.Meta.Extra),
		},
	}
	if err := e.store.CreateRecord(container); err != nil {
		return "", fmt.Errorf("ensure-container: create: %w", err)
	}
	e.logger.Info("created container",
		slog.String("owner", ownerID), slog.String("container", container.ID))
	return container.ID, nil
}

// CreateRecord creates a new blueprint record on the owner, parented to the
// container, with no category assigned yet.
func (e *Executor) CreateRecord(_ context.Context, ownerID, containerID, name, kind string) (string, error) {
	if _, err := e.store.GetOwner(ownerID); err != nil {
		return "", fmt.Errorf("create-record: owner %s: %w", ownerID, err)
	}
	if kind == "" {
		kind = models.KindBlueprint
	}
	record := &models.Record{
		ID:          newID(),
		Name:        name,
		Kind:        kind,
		OwnerID:     ownerID,
		ContainerID: containerID,
	}
	if err := e.store.CreateRecord(record); err != nil {
		return "", fmt.Errorf("create-record: %w", err)
	}
	return record.ID, nil
}

// FabricateParams are the inputs of the fabricate operation.
type FabricateParams struct {
	// OwnerID holds the resource pool being consumed.
	OwnerID string
	// TargetID receives the fabricated copy.
	TargetID string
	// BlueprintID is the record being copied.
	BlueprintID string
	// ContainerID becomes the derived record's origin back-reference.
	ContainerID string
	// Category selects the pool; must be 1..9.
	Category models.Category
}

// Fabricate consumes one unit of the owner's pool for the category and
// clones the blueprint onto the target as a temporary derived record. The
// two steps are not one transaction, so a clone failure after a successful
// decrement restores the unit before the error is returned.
func (e *Executor) Fabricate(_ context.Context, p FabricateParams) error {
	if !p.Category.Assigned() {
		return fmt.Errorf("fabricate: %w: %s", apperr.ErrInvalidCategory, p.Category)
	}
	if _, err := e.store.GetOwner(p.OwnerID); err != nil {
		return fmt.Errorf("fabricate: owner %s: %w", p.OwnerID, err)
	}
	if _, err := e.store.GetOwner(p.TargetID); err != nil {
		return fmt.Errorf("fabricate: target %s: %w", p.TargetID, err)
	}
	blueprint, err := e.store.GetRecord(p.BlueprintID)
	if err != nil {
		return fmt.Errorf("fabricate: blueprint %s: %w", p.BlueprintID, err)
	}

	if err := e.store.DecrementPool(p.OwnerID, p.Category); err != nil {
		return fmt.Errorf("fabricate: %w", err)
	}

	cat := p.Category
	derived := &models.Record{
		ID:      newID(),
		Name:    blueprint.Name,
		Kind:    models.KindDerived,
		OwnerID: p.TargetID,
		Meta: models.Metadata{
			Category:  &cat,
			OriginRef: p.ContainerID,
			Temporary: true,
			Image:     blueprint.Meta.Image,
			Extra:     copyExtra(blueprint.Meta.Extra),
		},
	}
	if err := e.store.CreateRecord(derived); err != nil {
		// Compensate the consumed unit so a failed clone never burns the pool.
		if restoreErr := e.store.IncrementPool(p.OwnerID, p.Category); restoreErr != nil {
			e.logger.Error("fabricate: pool restore failed",
				slog.String("owner", p.OwnerID),
				slog.String("category", p.Category.String()),
				slog.String("error", restoreErr.Error()))
			return fmt.Errorf("fabricate: create failed (%v) and pool restore failed: %w", err, restoreErr)
		}
		return fmt.Errorf("fabricate: create (pool restored): %w", err)
	}

	e.logger.Info("fabricated derived record",
		slog.String("owner", p.OwnerID), slog.String("target", p.TargetID),
		slog.String("record", derived.ID), slog.String("category", p.Category.String()))
	return nil
}

// Recall deletes a derived record after verifying that the presented
// container matches its origin back-reference. A mismatch and an absent
// record both return false with the store untouched; the two cases are
// deliberately indistinguishable so callers cannot probe which records
// exist.
func (e *Executor) Recall(_ context.Context, recordID, containerID string) (bool, error) {
	record, err := e.store.GetRecord(recordID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("recall: %w", err)
	}
	if record.Meta.OriginRef == "" || record.Meta.OriginRef != containerID {
		return false, nil
	}
	if err := e.store.DeleteRecord(recordID); err != nil {
		return false, fmt.Errorf("recall: delete: %w", err)
	}
	e.logger.Info("recalled derived record",
		slog.String("record", recordID), slog.String("container", containerID))
	return true, nil
}

// SetFlag overwrites one free-form flag entry on a record. Absent records
// are a no-op.
func (e *Executor) SetFlag(_ context.Context, recordID, key string, value any) error {
	if err := e.store.SetFlag(recordID, key, value); err != nil {
		return fmt.Errorf("set-flag: %w", err)
	}
	return nil
}

// AssignCategory moves a blueprint through the category state machine as a
// single executor-side unit: validate the input, update the container's
// assignment indices together, set the record's own category flag, relocate
// or refresh the mirror, and post a notice. A step's failure surfaces as an
// error naming what already committed, so the caller can retry the rest
// idempotently.
func (e *Executor) AssignCategory(_ context.Context, containerID, recordID string, value any) error {
	cat, err := models.ParseCategory(value)
	if err != nil {
		return fmt.Errorf("assign-category: %w", err)
	}

	container, err := e.store.GetRecord(containerID)
	if err != nil {
		return fmt.Errorf("assign-category: container %s: %w", containerID, err)
	}
	if container.Kind != models.KindContainer {
		return fmt.Errorf("assign-category: %s is not a container: %w", containerID, apperr.ErrNotFound)
	}
	record, err := e.store.GetRecord(recordID)
	if err != nil {
		return fmt.Errorf("assign-category: record %s: %w", recordID, err)
	}

	// Name fallback: a record re-created with a new identifier may still
	// carry an assignment row keyed by the old one. Drop the stale row so
	// the upsert below re-keys the assignment to the current identifier.
	if _, err := e.store.GetAssignment(containerID, recordID); errors.Is(err, apperr.ErrNotFound) {
		if stale, nameErr := e.store.GetAssignmentByName(containerID, record.Name); nameErr == nil && stale.RecordID != recordID {
			if err := e.store.DeleteAssignmentByName(containerID, record.Name); err != nil {
				return fmt.Errorf("assign-category: re-key: %w", err)
			}
		}
	}

	if cat.Assigned() {
		err = e.store.PutAssignment(&models.Assignment{
			ContainerID: containerID,
			RecordID:    recordID,
			RecordName:  record.Name,
			Category:    cat,
		})
	} else {
		err = e.store.DeleteAssignment(containerID, recordID)
	}
	if err != nil {
		return fmt.Errorf("assign-category: update maps: %w", err)
	}

	var flag *models.Category
	if cat.Assigned() {
		c := cat
		flag = &c
	}
	if err := e.store.SetCategory(recordID, flag); err != nil {
		return fmt.Errorf("assign-category: maps updated, category flag failed: %w", err)
	}

	snapshot := models.Snapshot{
		Name:  record.Name,
		Image: record.Meta.Image,
		Extra: copyExtra(record.Meta.Extra),
	}
	if err := e.mirrors.Mirror(snapshot, recordID, cat); err != nil {
		return fmt.Errorf("assign-category: maps and flag updated, mirror failed: %w", err)
	}

	e.notices.Post(fmt.Sprintf("%s is now %s", record.Name, cat))
	return nil
}

// Mirror upserts the catalog's read-view copy of a source record.
func (e *Executor) Mirror(_ context.Context, snapshot models.Snapshot, sourceRef string, category models.Category) error {
	return e.mirrors.Mirror(snapshot, sourceRef, category)
}

// Notify posts a message to the privileged notices stream. Best effort: no
// failure path is modeled.
func (e *Executor) Notify(_ context.Context, message string) error {
	e.notices.Post(message)
	return nil
}

func copyExtra(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
