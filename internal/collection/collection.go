// Package collection holds the primitives that keep an ordered sequence of
// entities consistent under a comparator. Every function is copy-on-write:
// the input slice is never written, so a previously published snapshot stays
// valid while a new one is built.
package collection

import (
	"slices"
	"sort"
)

// Identifiable is implemented by every entity held in a view.
type Identifiable interface {
	Identity() string
}

// Comparator orders two entities. A nil comparator means "server order":
// merges append and inserts prepend.
type Comparator[T any] func(left, right T) int

// Nesting describes one child collection of the same entity type, such as
// replies under a comment. The relation may recurse to any depth.
type Nesting[T any] struct {
	Children     func(T) []T
	WithChildren func(T, []T) T
	// Compare orders children; nil reuses the parent level's comparator.
	Compare Comparator[T]
}

func (n *Nesting[T]) compareFor(parent Comparator[T]) Comparator[T] {
	if n != nil && n.Compare != nil {
		return n.Compare
	}
	return parent
}

// IDSet is a set of identities.
type IDSet map[string]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...string) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// IndexOf returns the top-level position of id, or -1.
func IndexOf[T Identifiable](items []T, id string) int {
	for index, item := range items {
		if item.Identity() == id {
			return index
		}
	}
	return -1
}

// Find locates id at any depth reachable through nesting.
func Find[T Identifiable](items []T, id string, nesting *Nesting[T]) (T, bool) {
	for _, item := range items {
		if item.Identity() == id {
			return item, true
		}
	}
	if nesting != nil {
		for _, item := range items {
			if found, ok := Find(nesting.Children(item), id, nesting); ok {
				return found, true
			}
		}
	}
	var zero T
	return zero, false
}

// Contains reports whether id is held at any depth.
func Contains[T Identifiable](items []T, id string, nesting *Nesting[T]) bool {
	_, ok := Find(items, id, nesting)
	return ok
}

// Insert places item at its sorted position. An entity with the same
// identity is removed first, so inserting an existing key moves it.
func Insert[T Identifiable](items []T, item T, compare Comparator[T]) []T {
	return insertSorted(without(items, item.Identity()), item, compare)
}

// Merge folds incoming into existing. Existing entries sharing an identity
// with an incoming entry are dropped (incoming is fresher), duplicates inside
// incoming keep their last occurrence, and the union is stably sorted.
func Merge[T Identifiable](existing, incoming []T, compare Comparator[T]) []T {
	latest := make(map[string]int, len(incoming))
	for index, item := range incoming {
		latest[item.Identity()] = index
	}

	result := make([]T, 0, len(existing)+len(latest))
	for _, item := range existing {
		if _, replaced := latest[item.Identity()]; !replaced {
			result = append(result, item)
		}
	}
	for index, item := range incoming {
		if latest[item.Identity()] == index {
			result = append(result, item)
		}
	}
	if compare != nil {
		slices.SortStableFunc(result, compare)
	}
	return result
}

// Replace swaps the stored snapshot for item's identity and moves it when
// the comparator now yields a different slot. Absent identities are a no-op.
func Replace[T Identifiable](items []T, item T, compare Comparator[T]) []T {
	index := IndexOf(items, item.Identity())
	if index < 0 {
		return items
	}
	return reposition(items, index, item, compare)
}

// Upsert replaces item when present and inserts it otherwise.
func Upsert[T Identifiable](items []T, item T, compare Comparator[T]) []T {
	index := IndexOf(items, item.Identity())
	if index < 0 {
		return insertSorted(slices.Clone(items), item, compare)
	}
	return reposition(items, index, item, compare)
}

// Update locates id, descending through nesting when it is not held at the
// current level, applies mutate and re-sorts the entity within its level.
// The boolean reports whether id was found.
func Update[T Identifiable](items []T, id string, nesting *Nesting[T], compare Comparator[T], mutate func(T) T) ([]T, bool) {
	if index := IndexOf(items, id); index >= 0 {
		return reposition(items, index, mutate(items[index]), compare), true
	}
	if nesting == nil {
		return items, false
	}
	childCompare := nesting.compareFor(compare)
	for index, parent := range items {
		children := nesting.Children(parent)
		if len(children) == 0 {
			continue
		}
		updated, found := Update(children, id, nesting, childCompare, mutate)
		if !found {
			continue
		}
		result := slices.Clone(items)
		result[index] = nesting.WithChildren(parent, updated)
		return result, true
	}
	return items, false
}

// InsertChild adds child to the children of parentID, wherever the parent
// is held. The boolean reports whether the parent was found.
func InsertChild[T Identifiable](items []T, parentID string, child T, nesting *Nesting[T], compare Comparator[T]) ([]T, bool) {
	if nesting == nil {
		return items, false
	}
	childCompare := nesting.compareFor(compare)
	return Update(items, parentID, nesting, compare, func(parent T) T {
		return nesting.WithChildren(parent, Insert(nesting.Children(parent), child, childCompare))
	})
}

// Remove deletes id at any depth.
func Remove[T Identifiable](items []T, id string, nesting *Nesting[T]) ([]T, bool) {
	return RemoveIDs(items, NewIDSet(id), nesting)
}

// RemoveIDs deletes every identity in ids at any depth.
func RemoveIDs[T Identifiable](items []T, ids IDSet, nesting *Nesting[T]) ([]T, bool) {
	if len(ids) == 0 || len(items) == 0 {
		return items, false
	}
	removed := false
	result := make([]T, 0, len(items))
	for _, item := range items {
		if ids.Has(item.Identity()) {
			removed = true
			continue
		}
		if nesting != nil {
			if children := nesting.Children(item); len(children) > 0 {
				if pruned, changed := RemoveIDs(children, ids, nesting); changed {
					item = nesting.WithChildren(item, pruned)
					removed = true
				}
			}
		}
		result = append(result, item)
	}
	if !removed {
		return items, false
	}
	return result, true
}

// RemoveAll empties the sequence.
func RemoveAll[T any](items []T) ([]T, bool) {
	if len(items) == 0 {
		return items, false
	}
	return []T{}, true
}

// MapAll visits every entity at every depth and keeps the ones fn reports
// as changed. Sort position is not revisited, so fn must not touch
// sort-relevant fields.
func MapAll[T any](items []T, nesting *Nesting[T], fn func(T) (T, bool)) ([]T, bool) {
	var result []T
	for index, item := range items {
		next, changed := fn(item)
		if nesting != nil {
			if children := nesting.Children(next); len(children) > 0 {
				if mapped, childChanged := MapAll(children, nesting, fn); childChanged {
					next = nesting.WithChildren(next, mapped)
					changed = true
				}
			}
		}
		if !changed {
			continue
		}
		if result == nil {
			result = slices.Clone(items)
		}
		result[index] = next
	}
	if result == nil {
		return items, false
	}
	return result, true
}

// IsSorted reports whether items is non-decreasing under compare at every
// level reachable through nesting.
func IsSorted[T any](items []T, compare Comparator[T], nesting *Nesting[T]) bool {
	if compare != nil && !slices.IsSortedFunc(items, compare) {
		return false
	}
	if nesting == nil {
		return true
	}
	childCompare := nesting.compareFor(compare)
	for _, item := range items {
		if !IsSorted(nesting.Children(item), childCompare, nesting) {
			return false
		}
	}
	return true
}

func without[T Identifiable](items []T, id string) []T {
	result := make([]T, 0, len(items)+1)
	for _, item := range items {
		if item.Identity() != id {
			result = append(result, item)
		}
	}
	return result
}

// insertSorted writes into owned, which the caller must have allocated.
// Equal keys keep earlier entries first.
func insertSorted[T any](owned []T, item T, compare Comparator[T]) []T {
	if compare == nil {
		return slices.Insert(owned, 0, item)
	}
	index := sort.Search(len(owned), func(position int) bool {
		return compare(owned[position], item) > 0
	})
	return slices.Insert(owned, index, item)
}

func reposition[T any](items []T, index int, item T, compare Comparator[T]) []T {
	result := slices.Clone(items)
	if compare == nil {
		result[index] = item
		return result
	}
	result = slices.Delete(result, index, index+1)
	return insertSorted(result, item, compare)
}
