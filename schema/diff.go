package schema

import (
	"slices"
)

type DiffKind int

const (
	FieldAdded DiffKind = iota
	FieldRemoved
	FieldChanged
)

func (k DiffKind) String() string {
	switch k {
	case FieldAdded:
		return "added"
	case FieldRemoved:
		return "removed"
	case FieldChanged:
		return "changed"
	}
	return "unknown"
}

// Difference is one field-level change between two normalized schemas.
type Difference struct {
	Kind  DiffKind
	Field string
	Old   NormalizedField
	New   NormalizedField
}

// TypeOnly reports whether a change touches nothing but the base type.
func (d Difference) TypeOnly() bool {
	return d.Kind == FieldChanged && d.Old.Type != d.New.Type &&
		d.Old.TypeDef == d.New.TypeDef && d.Old.Static == d.New.Static
}

// DiffFields lists the field changes that turn from into to: removals and
// changes in from's declaration order, then additions in to's order.
func DiffFields(from, to *NormalizedSchema) []Difference {
	var diffs []Difference
	for _, name := range from.FieldOrder {
		old := from.Fields[name]
		updated, ok := to.Fields[name]
		switch {
		case !ok:
			diffs = append(diffs, Difference{Kind: FieldRemoved, Field: name, Old: old})
		case old != updated:
			diffs = append(diffs, Difference{Kind: FieldChanged, Field: name, Old: old, New: updated})
		}
	}
	for _, name := range to.FieldOrder {
		if _, ok := from.Fields[name]; !ok {
			diffs = append(diffs, Difference{Kind: FieldAdded, Field: name, New: to.Fields[name]})
		}
	}
	return diffs
}

// Apply replays differences onto a copy of s.
func (s *NormalizedSchema) Apply(diffs []Difference) *NormalizedSchema {
	c := s.Clone()
	for _, d := range diffs {
		c.ApplyDifference(d)
	}
	return c
}

// ApplyDifference replays a single difference in place.
func (s *NormalizedSchema) ApplyDifference(d Difference) {
	switch d.Kind {
	case FieldAdded:
		s.Fields[d.Field] = d.New
		if !slices.Contains(s.FieldOrder, d.Field) {
			s.FieldOrder = append(s.FieldOrder, d.Field)
		}
	case FieldRemoved:
		delete(s.Fields, d.Field)
		s.FieldOrder = slices.DeleteFunc(s.FieldOrder, func(name string) bool { return name == d.Field })
	case FieldChanged:
		s.Fields[d.Field] = d.New
	}
}

// DependentsOf returns the index targets, custom indexes and materialized
// views of s that reference field.
func (s *NormalizedSchema) DependentsOf(field string) (indexes []string, customIndexes []CustomIndex, views []string) {
	for _, target := range s.Indexes {
		if IndexField(target) == field {
			indexes = append(indexes, target)
		}
	}
	for _, idx := range s.CustomIndexes {
		if idx.On == field {
			customIndexes = append(customIndexes, idx)
		}
	}
	for _, name := range s.ViewNames() {
		if s.MaterializedViews[name].References(field) {
			views = append(views, name)
		}
	}
	return indexes, customIndexes, views
}

// RemoveDependents drops the given index targets, custom indexes and views
// from s in place.
func (s *NormalizedSchema) RemoveDependents(indexes []string, customIndexes []CustomIndex, views []string) {
	s.Indexes = slices.DeleteFunc(s.Indexes, func(t string) bool { return slices.Contains(indexes, t) })
	s.CustomIndexes = slices.DeleteFunc(s.CustomIndexes, func(c CustomIndex) bool {
		return slices.ContainsFunc(customIndexes, c.equal)
	})
	for _, name := range views {
		delete(s.MaterializedViews, name)
	}
}
