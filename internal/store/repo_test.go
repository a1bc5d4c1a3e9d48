package store

import (
	"errors"
	"os"
	"testing"

	"github.com/veldrane/eidolon/internal/apperr"
	"github.com/veldrane/eidolon/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "eidolon-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordRoundTrip(t *testing.T) {
	db := testDB(t)
	cat := models.Category(3)
	in := &models.Record{
		ID:          "rec-1",
		Name:        "Widget",
		Kind:        models.KindBlueprint,
		OwnerID:     "owner-1",
		ContainerID: "cont-1",
		Meta: models.Metadata{
			Category: &cat,
			Image:    "img.png",
			Extra:    map[string]any{"note": "x"},
		},
	}
	if err := db.CreateRecord(in); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	out, err := db.GetRecord("rec-1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if out.Name != "Widget" || out.Kind != models.KindBlueprint {
		t.Errorf("got %q/%q", out.Name, out.Kind)
	}
	if out.OwnerID != "owner-1" || out.ContainerID != "cont-1" {
		t.Errorf("refs = %q/%q", out.OwnerID, out.ContainerID)
	}
	if out.Meta.Category == nil || *out.Meta.Category != 3 {
		t.Errorf("category = %v", out.Meta.Category)
	}
	if out.Meta.Extra["note"] != "x" {
		t.Errorf("extra = %v", out.Meta.Extra)
	}
}

func TestCreateRecordDuplicate(t *testing.T) {
	db := testDB(t)
	r := &models.Record{ID: "rec-1", Kind: models.KindBlueprint}
	if err := db.CreateRecord(r); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateRecord(r); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestCreateOwnerDuplicate(t *testing.T) {
	db := testDB(t)
	o := &models.Owner{ID: "owner-1"}
	if err := db.CreateOwner(o); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateOwner(o); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetRecord("missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateAndDeleteRecord(t *testing.T) {
	db := testDB(t)
	r := &models.Record{ID: "rec-1", Name: "Old", Kind: models.KindBlueprint}
	if err := db.CreateRecord(r); err != nil {
		t.Fatal(err)
	}
	r.Name = "New"
	if err := db.UpdateRecord(r); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	out, _ := db.GetRecord("rec-1")
	if out.Name != "New" {
		t.Errorf("name = %q", out.Name)
	}
	if err := db.DeleteRecord("rec-1"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if _, err := db.GetRecord("rec-1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("record should be gone, err = %v", err)
	}
}

func TestSetFlagAbsentRecordIsNoop(t *testing.T) {
	db := testDB(t)
	if err := db.SetFlag("missing", "k", "v"); err != nil {
		t.Fatalf("SetFlag on absent record should be a no-op, got %v", err)
	}
}

func TestSetFlagOverwrites(t *testing.T) {
	db := testDB(t)
	r := &models.Record{ID: "rec-1", Kind: models.KindBlueprint}
	if err := db.CreateRecord(r); err != nil {
		t.Fatal(err)
	}
	if err := db.SetFlag("rec-1", "color", "red"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetFlag("rec-1", "color", "blue"); err != nil {
		t.Fatal(err)
	}
	out, _ := db.GetRecord("rec-1")
	if out.Meta.Extra["color"] != "blue" {
		t.Errorf("flag = %v", out.Meta.Extra["color"])
	}
}

func TestFindContainerAndTemplate(t *testing.T) {
	db := testDB(t)
	tmpl := &models.Record{ID: "tpl-1", Name: "Container", Kind: models.KindContainer}
	if err := db.CreateRecord(tmpl); err != nil {
		t.Fatal(err)
	}
	cont := &models.Record{ID: "cont-1", Name: "Container", Kind: models.KindContainer, OwnerID: "owner-1"}
	if err := db.CreateRecord(cont); err != nil {
		t.Fatal(err)
	}

	got, err := db.FindContainer("owner-1")
	if err != nil {
		t.Fatalf("FindContainer: %v", err)
	}
	if got.ID != "cont-1" {
		t.Errorf("container = %q", got.ID)
	}

	// The ownerless record is the template; the owned one must not match.
	tp, err := db.FindTemplate("Container")
	if err != nil {
		t.Fatalf("FindTemplate: %v", err)
	}
	if tp.ID != "tpl-1" {
		t.Errorf("template = %q", tp.ID)
	}

	if _, err := db.FindContainer("owner-2"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFindMirror(t *testing.T) {
	db := testDB(t)
	m := &models.Record{
		ID:   "mir-1",
		Kind: models.KindMirror,
		Meta: models.Metadata{SourceRef: "rec-1"},
	}
	if err := db.CreateRecord(m); err != nil {
		t.Fatal(err)
	}
	got, err := db.FindMirror("rec-1")
	if err != nil {
		t.Fatalf("FindMirror: %v", err)
	}
	if got.ID != "mir-1" {
		t.Errorf("mirror = %q", got.ID)
	}
	if _, err := db.FindMirror("rec-2"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPoolDecrement(t *testing.T) {
	db := testDB(t)
	if err := db.CreateOwner(&models.Owner{ID: "owner-1"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetPool("owner-1", 3, 2); err != nil {
		t.Fatal(err)
	}

	if err := db.DecrementPool("owner-1", 3); err != nil {
		t.Fatalf("first decrement: %v", err)
	}
	if err := db.DecrementPool("owner-1", 3); err != nil {
		t.Fatalf("second decrement: %v", err)
	}
	if err := db.DecrementPool("owner-1", 3); !errors.Is(err, apperr.ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	n, err := db.Pool("owner-1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("pool = %d, want 0", n)
	}
}

func TestPoolDecrementMissingRow(t *testing.T) {
	db := testDB(t)
	if err := db.DecrementPool("owner-1", 5); !errors.Is(err, apperr.ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestPoolIncrementCreatesRow(t *testing.T) {
	db := testDB(t)
	if err := db.IncrementPool("owner-1", 2); err != nil {
		t.Fatal(err)
	}
	n, _ := db.Pool("owner-1", 2)
	if n != 1 {
		t.Errorf("pool = %d, want 1", n)
	}
}

func TestFolderEmpty(t *testing.T) {
	db := testDB(t)
	if err := db.CreateFolder(&models.Folder{ID: "f-1", Name: "Catalog"}); err != nil {
		t.Fatal(err)
	}
	empty, err := db.FolderEmpty("f-1")
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Error("new folder should be empty")
	}

	// A child folder makes the parent non-empty.
	if err := db.CreateFolder(&models.Folder{ID: "f-2", Name: "Category 1", ParentID: "f-1"}); err != nil {
		t.Fatal(err)
	}
	empty, _ = db.FolderEmpty("f-1")
	if empty {
		t.Error("folder with child should not be empty")
	}

	// A record makes a folder non-empty.
	r := &models.Record{ID: "rec-1", Kind: models.KindMirror, FolderID: "f-2"}
	if err := db.CreateRecord(r); err != nil {
		t.Fatal(err)
	}
	empty, _ = db.FolderEmpty("f-2")
	if empty {
		t.Error("folder with record should not be empty")
	}
}

func TestAssignmentBothKeys(t *testing.T) {
	db := testDB(t)
	a := &models.Assignment{
		ContainerID: "cont-1",
		RecordID:    "rec-1",
		RecordName:  "Widget",
		Category:    4,
	}
	if err := db.PutAssignment(a); err != nil {
		t.Fatalf("PutAssignment: %v", err)
	}

	byID, err := db.GetAssignment("cont-1", "rec-1")
	if err != nil {
		t.Fatalf("GetAssignment: %v", err)
	}
	byName, err := db.GetAssignmentByName("cont-1", "Widget")
	if err != nil {
		t.Fatalf("GetAssignmentByName: %v", err)
	}
	if byID.Category != byName.Category {
		t.Errorf("indices disagree: %v vs %v", byID.Category, byName.Category)
	}

	// Upsert changes both views at once.
	a.Category = 7
	if err := db.PutAssignment(a); err != nil {
		t.Fatal(err)
	}
	byID, _ = db.GetAssignment("cont-1", "rec-1")
	byName, _ = db.GetAssignmentByName("cont-1", "Widget")
	if byID.Category != 7 || byName.Category != 7 {
		t.Errorf("categories = %v/%v, want 7/7", byID.Category, byName.Category)
	}
}

func TestAssignmentDelete(t *testing.T) {
	db := testDB(t)
	a := &models.Assignment{ContainerID: "c", RecordID: "r", RecordName: "N", Category: 1}
	if err := db.PutAssignment(a); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteAssignment("c", "r"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetAssignment("c", "r"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("id index should be empty, err = %v", err)
	}
	if _, err := db.GetAssignmentByName("c", "N"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("name index should be empty, err = %v", err)
	}
}
