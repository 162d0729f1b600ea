package models

import (
	"sort"
	"strings"
)

// Default column names used when a ColumnMapping leaves a field empty.
const (
	DefaultTitleColumn      = "title"
	DefaultAbstractColumn   = "abstract"
	DefaultKeywordsColumn   = "keywords"
	DefaultCategoriesColumn = "categories"
)

// ColumnMapping tells the scorer which source columns hold the scored fields.
type ColumnMapping struct {
	Title      string `json:"title" yaml:"title"`
	Abstract   string `json:"abstract" yaml:"abstract"`
	Keywords   string `json:"keywords" yaml:"keywords"`
	Categories string `json:"categories" yaml:"categories"`
}

// WithDefaults fills empty column names with the conventional ones.
func (m ColumnMapping) WithDefaults() ColumnMapping {
	if m.Title == "" {
		m.Title = DefaultTitleColumn
	}
	if m.Abstract == "" {
		m.Abstract = DefaultAbstractColumn
	}
	if m.Keywords == "" {
		m.Keywords = DefaultKeywordsColumn
	}
	if m.Categories == "" {
		m.Categories = DefaultCategoriesColumn
	}
	return m
}

// Record is one input document: the source row with its header order.
// Records are treated as immutable; use Clone before attaching results.
type Record struct {
	Columns []string          `json:"columns"`
	Fields  map[string]string `json:"fields"`
}

// NewRecord builds a record, keeping columns in the given order.
func NewRecord(columns []string, fields map[string]string) Record {
	cols := make([]string, len(columns))
	copy(cols, columns)
	f := make(map[string]string, len(fields))
	for k, v := range fields {
		f[k] = v
	}
	for k := range f {
		if !containsColumn(cols, k) {
			cols = append(cols, k)
		}
	}
	return Record{Columns: cols, Fields: f}
}

// Get returns the trimmed field value or an empty string.
func (r Record) Get(column string) string {
	if r.Fields == nil || column == "" {
		return ""
	}
	return strings.TrimSpace(r.Fields[column])
}

func (r Record) Title(m ColumnMapping) string { return r.Get(m.WithDefaults().Title) }
func (r Record) Abstract(m ColumnMapping) string { return r.Get(m.WithDefaults().Abstract) }
func (r Record) Keywords(m ColumnMapping) string { return r.Get(m.WithDefaults().Keywords) }
func (r Record) Categories(m ColumnMapping) string { return r.Get(m.WithDefaults().Categories) }

// IsBlank reports whether the record has neither a title nor an abstract.
func (r Record) IsBlank(m ColumnMapping) bool {
	return r.Title(m) == "" && r.Abstract(m) == ""
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	return NewRecord(r.Columns, r.Fields)
}

// OrderedColumns returns the header order; map-only records fall back to sorted keys.
func (r Record) OrderedColumns() []string {
	if len(r.Columns) > 0 {
		out := make([]string, len(r.Columns))
		copy(out, r.Columns)
		return out
	}
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsColumn(cols []string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}
