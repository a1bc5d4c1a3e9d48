package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/veldrane/eidolon/internal/apperr"
)

// Category classifies a blueprint record. Zero means uncategorized; valid
// assigned values are 1 through 9.
type Category int

// CategoryNone is the uncategorized state.
const CategoryNone Category = 0

// MaxCategory is the highest assignable category.
const MaxCategory Category = 9

// Valid reports whether c is uncategorized or within 1..9.
func (c Category) Valid() bool {
	return c >= CategoryNone && c <= MaxCategory
}

// Assigned reports whether c holds a real category (1..9).
func (c Category) Assigned() bool {
	return c >= 1 && c <= MaxCategory
}

// FolderName returns the catalog subfolder name for this category.
func (c Category) FolderName() string {
	if !c.Assigned() {
		return "Uncategorized"
	}
	return fmt.Sprintf("Category %d", int(c))
}

// String implements fmt.Stringer.
func (c Category) String() string {
	if !c.Assigned() {
		return "uncategorized"
	}
	return strconv.Itoa(int(c))
}

// CategoryFolderNames lists every subfolder of the catalog root, uncategorized
// first, in display order.
func CategoryFolderNames() []string {
	names := make([]string, 0, int(MaxCategory)+1)
	names = append(names, CategoryNone.FolderName())
	for c := Category(1); c <= MaxCategory; c++ {
		names = append(names, c.FolderName())
	}
	return names
}

// ParseCategory normalizes an assignment input. nil, the empty string, "0"
// and numeric zero all mean uncategorized; integers (or integer-valued
// strings) 1..9 are assigned categories; anything else is rejected with
// apperr.ErrInvalidCategory.
func ParseCategory(v any) (Category, error) {
	switch x := v.(type) {
	case nil:
		return CategoryNone, nil
	case Category:
		if !x.Valid() {
			return 0, fmt.Errorf("%w: %d", apperr.ErrInvalidCategory, int(x))
		}
		return x, nil
	case int:
		return categoryFromInt(x)
	case int64:
		return categoryFromInt(int(x))
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("%w: %v", apperr.ErrInvalidCategory, x)
		}
		return categoryFromInt(int(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return CategoryNone, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", apperr.ErrInvalidCategory, x)
		}
		return categoryFromInt(n)
	default:
		return 0, fmt.Errorf("%w: %T", apperr.ErrInvalidCategory, v)
	}
}

func categoryFromInt(n int) (Category, error) {
	c := Category(n)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %d", apperr.ErrInvalidCategory, n)
	}
	return c, nil
}
