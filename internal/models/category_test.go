package models

import (
	"errors"
	"testing"

	"github.com/veldrane/eidolon/internal/apperr"
)

func TestCategoryFolderName(t *testing.T) {
	if got := CategoryNone.FolderName(); got != "Uncategorized" {
		t.Errorf("FolderName(0) = %q", got)
	}
	if got := Category(5).FolderName(); got != "Category 5" {
		t.Errorf("FolderName(5) = %q", got)
	}
}

func TestCategoryFolderNames(t *testing.T) {
	names := CategoryFolderNames()
	if len(names) != 10 {
		t.Fatalf("len = %d, want 10", len(names))
	}
	if names[0] != "Uncategorized" {
		t.Errorf("first = %q", names[0])
	}
	if names[9] != "Category 9" {
		t.Errorf("last = %q", names[9])
	}
}

func TestParseCategory(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want Category
	}{
		{"nil", nil, CategoryNone},
		{"empty string", "", CategoryNone},
		{"zero string", "0", CategoryNone},
		{"zero int", 0, CategoryNone},
		{"zero float", float64(0), CategoryNone},
		{"int", 7, Category(7)},
		{"json number", float64(3), Category(3)},
		{"numeric string", "9", Category(9)},
		{"padded string", " 4 ", Category(4)},
		{"typed", Category(2), Category(2)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseCategory(tc.in)
			if err != nil {
				t.Fatalf("ParseCategory(%v): %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseCategory(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseCategoryRejects(t *testing.T) {
	for _, in := range []any{10, -1, "ten", 3.5, true, "10"} {
		if _, err := ParseCategory(in); !errors.Is(err, apperr.ErrInvalidCategory) {
			t.Errorf("ParseCategory(%v) err = %v, want ErrInvalidCategory", in, err)
		}
	}
}

func TestCategoryAssigned(t *testing.T) {
	if CategoryNone.Assigned() {
		t.Error("zero should not be assigned")
	}
	if !Category(1).Assigned() || !MaxCategory.Assigned() {
		t.Error("1 and 9 should be assigned")
	}
	if Category(10).Assigned() {
		t.Error("10 should not be assigned")
	}
}
