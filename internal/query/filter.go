package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Operator names a filter comparison or combinator on the wire.
type Operator string

const (
	OperatorEqual          Operator = "$eq"
	OperatorIn             Operator = "$in"
	OperatorGreater        Operator = "$gt"
	OperatorGreaterOrEqual Operator = "$gte"
	OperatorLess           Operator = "$lt"
	OperatorLessOrEqual    Operator = "$lte"
	OperatorContains       Operator = "$contains"
	OperatorAutocomplete   Operator = "$autocomplete"
	OperatorExists         Operator = "$exists"
	OperatorAnd            Operator = "$and"
	OperatorOr             Operator = "$or"
)

var (
	// ErrInvalidFilter indicates a filter payload that does not follow the wire grammar.
	ErrInvalidFilter = errors.New("query: invalid filter")
	// ErrUnknownField indicates a filter or sort that names a field the catalog does not declare.
	ErrUnknownField = errors.New("query: unknown field")
)

var comparisonOperators = map[Operator]struct{}{
	OperatorEqual:          {},
	OperatorIn:             {},
	OperatorGreater:        {},
	OperatorGreaterOrEqual: {},
	OperatorLess:           {},
	OperatorLessOrEqual:    {},
	OperatorContains:       {},
	OperatorAutocomplete:   {},
	OperatorExists:         {},
}

// Filter is an immutable predicate tree over T. A nil *Filter matches everything.
type Filter[T any] struct {
	operator Operator
	field    Field[T]
	value    any
	children []*Filter[T]
}

func leaf[T any](field Field[T], operator Operator, value any) *Filter[T] {
	return &Filter[T]{operator: operator, field: field, value: value}
}

// Equal matches entities whose field equals value.
func Equal[T any](field Field[T], value any) *Filter[T] {
	return leaf(field, OperatorEqual, value)
}

// In matches entities whose field (or any element of a list field) is one of values.
func In[T any](field Field[T], values ...any) *Filter[T] {
	return leaf(field, OperatorIn, append([]any(nil), values...))
}

// Greater matches entities whose field orders after value.
func Greater[T any](field Field[T], value any) *Filter[T] {
	return leaf(field, OperatorGreater, value)
}

// GreaterOrEqual matches entities whose field orders at or after value.
func GreaterOrEqual[T any](field Field[T], value any) *Filter[T] {
	return leaf(field, OperatorGreaterOrEqual, value)
}

// Less matches entities whose field orders before value.
func Less[T any](field Field[T], value any) *Filter[T] {
	return leaf(field, OperatorLess, value)
}

// LessOrEqual matches entities whose field orders at or before value.
func LessOrEqual[T any](field Field[T], value any) *Filter[T] {
	return leaf(field, OperatorLessOrEqual, value)
}

// Contains matches a substring of a string field or an element of a list field.
func Contains[T any](field Field[T], value any) *Filter[T] {
	return leaf(field, OperatorContains, value)
}

// Autocomplete matches when any word of the field starts with prefix, ignoring case.
func Autocomplete[T any](field Field[T], prefix string) *Filter[T] {
	return leaf(field, OperatorAutocomplete, prefix)
}

// Exists matches entities whose field is present (or absent when exists is false).
func Exists[T any](field Field[T], exists bool) *Filter[T] {
	return leaf(field, OperatorExists, exists)
}

// And matches when every child matches. Nil children are skipped.
func And[T any](filters ...*Filter[T]) *Filter[T] {
	return combine(OperatorAnd, filters)
}

// Or matches when any child matches. Nil children are skipped.
func Or[T any](filters ...*Filter[T]) *Filter[T] {
	return combine(OperatorOr, filters)
}

func combine[T any](operator Operator, filters []*Filter[T]) *Filter[T] {
	children := make([]*Filter[T], 0, len(filters))
	for _, child := range filters {
		if child != nil {
			children = append(children, child)
		}
	}
	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	}
	return &Filter[T]{operator: operator, children: children}
}

// Operator returns the filter's operator or combinator.
func (f *Filter[T]) Operator() Operator {
	if f == nil {
		return ""
	}
	return f.operator
}

// FieldName returns the field a leaf filter tests, or "" for combinators.
func (f *Filter[T]) FieldName() string {
	if f == nil || f.isCombinator() {
		return ""
	}
	return f.field.Name
}

func (f *Filter[T]) isCombinator() bool {
	return f.operator == OperatorAnd || f.operator == OperatorOr
}

// Matches evaluates the filter against a local snapshot of entity.
func (f *Filter[T]) Matches(entity T) bool {
	if f == nil {
		return true
	}
	switch f.operator {
	case OperatorAnd:
		for _, child := range f.children {
			if !child.Matches(entity) {
				return false
			}
		}
		return true
	case OperatorOr:
		for _, child := range f.children {
			if child.Matches(entity) {
				return true
			}
		}
		return false
	}
	if f.field.Value == nil {
		return false
	}
	return evaluate(f.operator, f.field.Value(entity), f.value)
}

// MatchesLocally evaluates only the leaves Matches can trust. Leaves on
// remote-only fields are unknown, so decided is false whenever the verdict
// depends on one of them: a false local leaf still rejects under $and and a
// true one still admits under $or.
func (f *Filter[T]) MatchesLocally(entity T) (matched, decided bool) {
	if f == nil {
		return true, true
	}
	switch f.operator {
	case OperatorAnd:
		decided = true
		for _, child := range f.children {
			childMatched, childDecided := child.MatchesLocally(entity)
			if childDecided && !childMatched {
				return false, true
			}
			decided = decided && childDecided
		}
		return decided, decided
	case OperatorOr:
		decided = true
		for _, child := range f.children {
			childMatched, childDecided := child.MatchesLocally(entity)
			if childDecided && childMatched {
				return true, true
			}
			decided = decided && childDecided
		}
		return false, decided
	}
	if f.field.RemoteOnly {
		return false, false
	}
	return f.Matches(entity), true
}

// LocallyEvaluable reports whether Matches can be trusted for admission.
// Any leaf on a remote-only field makes the whole tree remote-only.
func (f *Filter[T]) LocallyEvaluable() bool {
	if f == nil {
		return true
	}
	if f.isCombinator() {
		for _, child := range f.children {
			if !child.LocallyEvaluable() {
				return false
			}
		}
		return true
	}
	return !f.field.RemoteOnly
}

// Encode returns the wire form of the filter, e.g. {"user_id":{"$eq":"u1"}}.
func (f *Filter[T]) Encode() map[string]any {
	if f == nil {
		return nil
	}
	if f.isCombinator() {
		children := make([]any, 0, len(f.children))
		for _, child := range f.children {
			children = append(children, child.Encode())
		}
		return map[string]any{string(f.operator): children}
	}
	return map[string]any{
		f.field.Name: map[string]any{string(f.operator): encodeValue(f.value)},
	}
}

// String renders the filter for logs.
func (f *Filter[T]) String() string {
	if f == nil {
		return "<all>"
	}
	if f.isCombinator() {
		parts := make([]string, 0, len(f.children))
		for _, child := range f.children {
			parts = append(parts, child.String())
		}
		return "(" + strings.Join(parts, " "+string(f.operator)+" ") + ")"
	}
	return fmt.Sprintf("%s %s %v", f.field.Name, f.operator, encodeValue(f.value))
}

func evaluate(operator Operator, actual, expected any) bool {
	switch operator {
	case OperatorEqual:
		return equalValues(actual, expected)
	case OperatorIn:
		set, ok := listValues(expected)
		if !ok {
			set = []any{expected}
		}
		if items, isList := listValues(actual); isList {
			for _, item := range items {
				if containsValue(set, item) {
					return true
				}
			}
			return false
		}
		return containsValue(set, actual)
	case OperatorGreater:
		result, ok := compareValues(actual, expected)
		return ok && result > 0
	case OperatorGreaterOrEqual:
		result, ok := compareValues(actual, expected)
		return ok && result >= 0
	case OperatorLess:
		result, ok := compareValues(actual, expected)
		return ok && result < 0
	case OperatorLessOrEqual:
		result, ok := compareValues(actual, expected)
		return ok && result <= 0
	case OperatorContains:
		if items, isList := listValues(actual); isList {
			return containsValue(items, expected)
		}
		text, isText := normalize(actual).(string)
		needle, isNeedle := normalize(expected).(string)
		return isText && isNeedle && strings.Contains(text, needle)
	case OperatorAutocomplete:
		text, isText := normalize(actual).(string)
		prefix, isPrefix := normalize(expected).(string)
		if !isText || !isPrefix {
			return false
		}
		prefix = strings.ToLower(strings.TrimSpace(prefix))
		if prefix == "" {
			return true
		}
		for _, word := range strings.Fields(strings.ToLower(text)) {
			if strings.HasPrefix(word, prefix) {
				return true
			}
		}
		return false
	case OperatorExists:
		want, _ := normalize(expected).(bool)
		return want != isAbsent(actual)
	}
	return false
}

// ParseFilter decodes the wire form of a filter against catalog. Multiple
// top-level keys are combined with AND.
func ParseFilter[T any](raw map[string]any, catalog Catalog[T]) (*Filter[T], error) {
	if len(raw) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parsed := make([]*Filter[T], 0, len(keys))
	for _, key := range keys {
		filter, err := parseEntry(key, raw[key], catalog)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, filter)
	}
	return And(parsed...), nil
}

func parseEntry[T any](key string, value any, catalog Catalog[T]) (*Filter[T], error) {
	operator := Operator(key)
	if operator == OperatorAnd || operator == OperatorOr {
		items, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a list", ErrInvalidFilter, key)
		}
		children := make([]*Filter[T], 0, len(items))
		for _, item := range items {
			childRaw, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s entries must be objects", ErrInvalidFilter, key)
			}
			child, err := ParseFilter(childRaw, catalog)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return combine(operator, children), nil
	}

	field, ok := catalog.Field(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, key)
	}
	condition, ok := value.(map[string]any)
	if !ok || len(condition) != 1 {
		return nil, fmt.Errorf("%w: %s expects a single operator", ErrInvalidFilter, key)
	}
	for rawOperator, operand := range condition {
		operator := Operator(rawOperator)
		if _, known := comparisonOperators[operator]; !known {
			return nil, fmt.Errorf("%w: unsupported operator %s", ErrInvalidFilter, rawOperator)
		}
		switch operator {
		case OperatorIn:
			items, isList := listValues(operand)
			if !isList {
				return nil, fmt.Errorf("%w: %s $in expects a list", ErrInvalidFilter, key)
			}
			return In(field, items...), nil
		case OperatorExists:
			exists, isBool := operand.(bool)
			if !isBool {
				return nil, fmt.Errorf("%w: %s $exists expects a boolean", ErrInvalidFilter, key)
			}
			return Exists(field, exists), nil
		case OperatorAutocomplete:
			prefix, isText := operand.(string)
			if !isText {
				return nil, fmt.Errorf("%w: %s $autocomplete expects a string", ErrInvalidFilter, key)
			}
			return Autocomplete(field, prefix), nil
		}
		return leaf(field, operator, operand), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidFilter, key)
}
