package style

import (
	"fmt"
	"sort"
	"strings"
)

// Category is one editable section of the style settings.
type Category string

const (
	CategoryBackground     Category = "background"
	CategoryBranding       Category = "branding"
	CategoryClothing       Category = "clothing"
	CategoryClothingColors Category = "clothingColors"
	CategoryCustomClothing Category = "customClothing"
	CategoryExpression     Category = "expression"
	CategoryPose           Category = "pose"
	CategoryShotType       Category = "shotType"
	CategoryLighting       Category = "lighting"
)

var allCategories = []Category{
	CategoryBackground,
	CategoryBranding,
	CategoryClothing,
	CategoryClothingColors,
	CategoryCustomClothing,
	CategoryExpression,
	CategoryPose,
	CategoryShotType,
	CategoryLighting,
}

// Meta keys a requester may send regardless of the package categories.
// presetId is accepted so stored settings can be sent back, but the server
// always assigns it.
const (
	MetaPresetID    = "presetId"
	MetaAspectRatio = "aspectRatio"
)

var metaKeys = map[string]struct{}{
	MetaPresetID:    {},
	MetaAspectRatio: {},
}

// AllCategories returns every category kind.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

func ParseCategory(raw string) (Category, bool) {
	for _, c := range allCategories {
		if string(c) == raw {
			return c, true
		}
	}
	return "", false
}

// CategorySet is the set of categories a package exposes.
type CategorySet map[Category]struct{}

func NewCategorySet(categories ...Category) CategorySet {
	set := make(CategorySet, len(categories))
	for _, c := range categories {
		set[c] = struct{}{}
	}
	return set
}

// ParseCategorySet parses stored category names, rejecting unknown ones.
func ParseCategorySet(raw []string) (CategorySet, error) {
	set := make(CategorySet, len(raw))
	for _, name := range raw {
		c, ok := ParseCategory(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("unknown style category %q", name)
		}
		set[c] = struct{}{}
	}
	return set, nil
}

func (s CategorySet) Has(c Category) bool {
	_, ok := s[c]
	return ok
}

// Sorted returns the categories in declaration order.
func (s CategorySet) Sorted() []Category {
	out := make([]Category, 0, len(s))
	for _, c := range allCategories {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// DisallowedCategoryError lists requester keys outside the package allow-list.
type DisallowedCategoryError struct {
	Keys []string
}

func (e *DisallowedCategoryError) Error() string {
	keys := append([]string(nil), e.Keys...)
	sort.Strings(keys)
	return fmt.Sprintf("style categories not available for this package: %s", strings.Join(keys, ", "))
}
