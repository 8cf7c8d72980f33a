package models

import (
	"database/sql/driver"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Interests is an ordered set of interest tags. On PostgreSQL it is stored as
// text[]; other dialects keep the same array literal in a text column.
type Interests []string

func (Interests) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

func (i Interests) Value() (driver.Value, error) {
	if i == nil {
		return pq.StringArray{}.Value()
	}
	return pq.StringArray(i).Value()
}

func (i *Interests) Scan(src any) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	*i = Interests(arr)
	return nil
}

// NormalizeInterests lowercases and trims tags, drops empties and duplicates,
// and keeps first-seen order.
func NormalizeInterests(raw []string) Interests {
	seen := make(map[string]struct{}, len(raw))
	out := make(Interests, 0, len(raw))
	for _, r := range raw {
		tag := strings.ToLower(strings.TrimSpace(r))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// Overlaps reports whether the two sets share at least one tag.
func (i Interests) Overlaps(other Interests) bool {
	if len(i) == 0 || len(other) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(i))
	for _, tag := range i {
		set[tag] = struct{}{}
	}
	for _, tag := range other {
		if _, ok := set[tag]; ok {
			return true
		}
	}
	return false
}

// Common returns the tags of i that also appear in other, in i's order.
func (i Interests) Common(other Interests) Interests {
	set := make(map[string]struct{}, len(other))
	for _, tag := range other {
		set[tag] = struct{}{}
	}
	var out Interests
	for _, tag := range i {
		if _, ok := set[tag]; ok {
			out = append(out, tag)
		}
	}
	return out
}
