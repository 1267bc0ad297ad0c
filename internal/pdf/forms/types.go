package forms

import (
	"sort"
)

// Kind is the fill behavior of a field
type Kind string

const (
	KindText     Kind = "text"
	KindCheckbox Kind = "checkbox"
)

// FieldDescriptor is one fillable field of a form
type FieldDescriptor struct {
	ID   string     `json:"id"`
	Kind Kind       `json:"type"`
	Page int        `json:"page"`
	Rect [4]float64 `json:"rect"`
	// Value is the field's current value: a string for text fields and a
	// bool for checkboxes.
	Value interface{} `json:"value,omitempty"`
}

// Descriptor returns the positional part of f without its value, which is
// what the annotator sees.
func (f FieldDescriptor) Descriptor() FieldDescriptor {
	f.Value = nil
	return f
}

// ValueMap maps field ids to the value to write. A missing key leaves the
// field untouched.
type ValueMap map[string]interface{}

// Inventory is the ordered list of fillable fields in a document: pages
// ascending, widget order within a page.
type Inventory struct {
	Fields    []FieldDescriptor `json:"fields"`
	PageCount int               `json:"page_count"`
}

// Len returns the number of fields
func (inv *Inventory) Len() int {
	return len(inv.Fields)
}

// ByPage groups the fields by page number, keeping inventory order
func (inv *Inventory) ByPage() map[int][]FieldDescriptor {
	groups := make(map[int][]FieldDescriptor)
	for _, f := range inv.Fields {
		groups[f.Page] = append(groups[f.Page], f)
	}
	return groups
}

// Pages returns the page numbers that carry at least one field, ascending
func (inv *Inventory) Pages() []int {
	seen := make(map[int]bool)
	pages := make([]int, 0)
	for _, f := range inv.Fields {
		if !seen[f.Page] {
			seen[f.Page] = true
			pages = append(pages, f.Page)
		}
	}
	sort.Ints(pages)
	return pages
}

// Lookup finds a field by id
func (inv *Inventory) Lookup(id string) (FieldDescriptor, bool) {
	for _, f := range inv.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}
