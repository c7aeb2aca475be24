// Package query describes filters, sorts and cursor-paginated queries over
// feed entities. The same field extractors drive both the wire encoding of a
// query and the local evaluation of a filter against an entity.
package query

// Field names a filterable property of T and the closure that extracts it.
type Field[T any] struct {
	Name       string
	Value      func(T) any
	RemoteOnly bool
}

// NewField returns a field that can be evaluated against a local snapshot.
func NewField[T any](name string, value func(T) any) Field[T] {
	return Field[T]{Name: name, Value: value}
}

// NewRemoteField returns a field the server can evaluate but whose local
// value is not authoritative, such as feed membership after fan-out.
func NewRemoteField[T any](name string, value func(T) any) Field[T] {
	return Field[T]{Name: name, Value: value, RemoteOnly: true}
}

// Catalog indexes the filter and sort fields declared for one entity type.
type Catalog[T any] struct {
	fields      map[string]Field[T]
	sorts       map[string]SortField[T]
	defaultSort []Sort[T]
}

// NewCatalog builds a catalog. defaultSort applies whenever a query carries no sort.
func NewCatalog[T any](fields []Field[T], sorts []SortField[T], defaultSort ...Sort[T]) Catalog[T] {
	catalog := Catalog[T]{
		fields:      make(map[string]Field[T], len(fields)),
		sorts:       make(map[string]SortField[T], len(sorts)),
		defaultSort: append([]Sort[T](nil), defaultSort...),
	}
	for _, field := range fields {
		catalog.fields[field.Name] = field
	}
	for _, sortField := range sorts {
		catalog.sorts[sortField.Name] = sortField
	}
	return catalog
}

// Field looks up a filter field by name.
func (c Catalog[T]) Field(name string) (Field[T], bool) {
	field, ok := c.fields[name]
	return field, ok
}

// SortField looks up a sort field by name.
func (c Catalog[T]) SortField(name string) (SortField[T], bool) {
	sortField, ok := c.sorts[name]
	return sortField, ok
}

// DefaultSort returns a copy of the entity type's default sort.
func (c Catalog[T]) DefaultSort() []Sort[T] {
	return append([]Sort[T](nil), c.defaultSort...)
}

// SortOrDefault returns sorts when non-empty, otherwise the default sort.
func (c Catalog[T]) SortOrDefault(sorts []Sort[T]) []Sort[T] {
	if len(sorts) > 0 {
		return sorts
	}
	return c.DefaultSort()
}
