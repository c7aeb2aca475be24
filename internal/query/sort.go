package query

import (
	"cmp"
	"fmt"
	"time"
)

// Direction orders a sort field ascending or descending.
type Direction int

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// SortField names a total order over T.
type SortField[T any] struct {
	Name    string
	compare func(left, right T) int
}

// NewSortField builds a sort field from an ordered extractor.
func NewSortField[T any, V cmp.Ordered](name string, value func(T) V) SortField[T] {
	return SortField[T]{
		Name: name,
		compare: func(left, right T) int {
			return cmp.Compare(value(left), value(right))
		},
	}
}

// NewTimeSortField builds a sort field from a time extractor.
func NewTimeSortField[T any](name string, value func(T) time.Time) SortField[T] {
	return SortField[T]{
		Name: name,
		compare: func(left, right T) int {
			return value(left).Compare(value(right))
		},
	}
}

// Sort pairs a sort field with a direction.
type Sort[T any] struct {
	Field     SortField[T]
	Direction Direction
}

// Asc sorts by field ascending.
func Asc[T any](field SortField[T]) Sort[T] {
	return Sort[T]{Field: field, Direction: Ascending}
}

// Desc sorts by field descending.
func Desc[T any](field SortField[T]) Sort[T] {
	return Sort[T]{Field: field, Direction: Descending}
}

// Compare orders left and right by the sort's field and direction.
func (s Sort[T]) Compare(left, right T) int {
	if s.Field.compare == nil {
		return 0
	}
	result := s.Field.compare(left, right)
	if s.Direction == Descending {
		return -result
	}
	return result
}

// Comparator chains sorts left to right, falling back to the next sort on
// ties. It returns nil for an empty sort list, meaning "server order".
func Comparator[T any](sorts []Sort[T]) func(left, right T) int {
	if len(sorts) == 0 {
		return nil
	}
	chain := append([]Sort[T](nil), sorts...)
	return func(left, right T) int {
		for _, sortEntry := range chain {
			if result := sortEntry.Compare(left, right); result != 0 {
				return result
			}
		}
		return 0
	}
}

// SortRequest is the wire form of one sort entry.
type SortRequest struct {
	Field     string `json:"field"`
	Direction int    `json:"direction"`
}

// EncodeSort converts sorts into their wire form.
func EncodeSort[T any](sorts []Sort[T]) []SortRequest {
	if len(sorts) == 0 {
		return nil
	}
	encoded := make([]SortRequest, 0, len(sorts))
	for _, sortEntry := range sorts {
		encoded = append(encoded, SortRequest{Field: sortEntry.Field.Name, Direction: int(sortEntry.Direction)})
	}
	return encoded
}

// ParseSort decodes wire sort entries against catalog.
func ParseSort[T any](requests []SortRequest, catalog Catalog[T]) ([]Sort[T], error) {
	if len(requests) == 0 {
		return nil, nil
	}
	sorts := make([]Sort[T], 0, len(requests))
	for _, request := range requests {
		field, ok := catalog.SortField(request.Field)
		if !ok {
			return nil, fmt.Errorf("%w: sort %s", ErrUnknownField, request.Field)
		}
		direction := Ascending
		if request.Direction < 0 {
			direction = Descending
		}
		sorts = append(sorts, Sort[T]{Field: field, Direction: direction})
	}
	return sorts, nil
}
