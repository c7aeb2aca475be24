package view

import (
	"github.com/MarcoPoloResearchLab/feeds/internal/collection"
	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
)

// ActionKind names the collection primitive an event resolves to.
type ActionKind int

const (
	ActionIgnore ActionKind = iota
	ActionInsert
	ActionUpsert
	ActionReplace
	ActionRemove
	ActionRemoveIDs
	ActionRemoveAll
	ActionMerge
	ActionUpdate
	ActionInsertChild
	ActionRemoveChild
	ActionMapAll
	ActionRefetch
	ActionRefresh
)

var actionNames = map[ActionKind]string{
	ActionIgnore:      "ignore",
	ActionInsert:      "insert",
	ActionUpsert:      "upsert",
	ActionReplace:     "replace",
	ActionRemove:      "remove",
	ActionRemoveIDs:   "remove_ids",
	ActionRemoveAll:   "remove_all",
	ActionMerge:       "merge",
	ActionUpdate:      "update",
	ActionInsertChild: "insert_child",
	ActionRemoveChild: "remove_child",
	ActionMapAll:      "map_all",
	ActionRefetch:     "refetch",
	ActionRefresh:     "refresh",
}

func (k ActionKind) String() string {
	if name, ok := actionNames[k]; ok {
		return name
	}
	return "unknown"
}

// Action is the single mutation an event asks of a view.
type Action[T any] struct {
	Kind     ActionKind
	Entity   T
	Entities []T
	ID       string
	IDs      []string
	ParentID string
	Mutate   func(T) T
	Map      func(T) (T, bool)
}

func ignore[T any]() Action[T] {
	return Action[T]{Kind: ActionIgnore}
}

// Rules configure how events reach one entity type. Only Type is required;
// every hook left nil disables the corresponding behaviour.
type Rules[T collection.Identifiable] struct {
	// Type is the entity type the view holds.
	Type events.EntityType
	// Cast converts an event payload; nil uses a type assertion.
	Cast func(any) (T, bool)
	// InScope rejects events addressed to another feed or object.
	InScope func(events.ChangeEvent) bool
	// ReactionTarget is the Scope.ObjectType whose reaction events mutate
	// held entities through ApplyReaction.
	ReactionTarget string
	ApplyReaction  func(entity T, event events.ChangeEvent) T
	// ApplyUser updates embedded user copies and reports whether it did.
	ApplyUser func(entity T, user any) (T, bool)
	// Carry copies local-only state from the held snapshot onto a fresh one.
	Carry func(held, incoming T) T
	// OnChildAdded and OnChildRemoved adjust a parent's denormalised counts.
	OnChildAdded   func(parent, child T) T
	OnChildRemoved func(parent T, childID string) T
	// Extra maps events of other entity types onto this view, such as a
	// bookmark changing an activity's bookmark count. It runs first.
	Extra func(events.ChangeEvent) (Action[T], bool)
}

func (r Rules[T]) cast(payload any) (T, bool) {
	if r.Cast != nil {
		return r.Cast(payload)
	}
	entity, ok := payload.(T)
	return entity, ok
}

func (r Rules[T]) inScope(event events.ChangeEvent) bool {
	return r.InScope == nil || r.InScope(event)
}

// RouteContext is the view state an event is routed against.
type RouteContext[T any] struct {
	Filter *query.Filter[T]
	// Refetch is set when Filter cannot decide admission locally.
	Refetch bool
	// Opaque is set when no leaf of Filter may be evaluated locally.
	Opaque bool
	// Nested is set when the view maintains child collections.
	Nested bool
}

// Route maps an event to at most one action. It is pure: the caller applies
// the action to its own state.
func Route[T collection.Identifiable](rules Rules[T], event events.ChangeEvent, rc RouteContext[T]) Action[T] {
	if rules.Extra != nil {
		if action, ok := rules.Extra(event); ok {
			return action
		}
	}

	switch {
	case event.Kind == events.KindUserUpdated:
		if rules.ApplyUser == nil || event.Entity == nil {
			return ignore[T]()
		}
		user := event.Entity
		return Action[T]{Kind: ActionMapAll, Map: func(entity T) (T, bool) {
			return rules.ApplyUser(entity, user)
		}}
	case event.Kind.IsReaction():
		return routeReaction(rules, event, rc)
	}

	if event.Type != rules.Type {
		return ignore[T]()
	}

	switch event.Kind {
	case events.KindAdded:
		return routeAdded(rules, event, rc)
	case events.KindUpdated:
		return routeUpdated(rules, event, rc)
	case events.KindDeleted:
		return routeDeleted(rules, event)
	case events.KindBatchAdded:
		return routeBatchAdded(rules, event, rc)
	case events.KindBatchRemoved:
		if !rules.inScope(event) || len(event.EntityIDs) == 0 {
			return ignore[T]()
		}
		return Action[T]{Kind: ActionRemoveIDs, IDs: append([]string(nil), event.EntityIDs...)}
	}
	if event.Kind.IsChild() {
		return routeChild(rules, event, rc)
	}
	return ignore[T]()
}

// verdict decides admission of entity. decided is false when only the
// server can tell.
func (rc RouteContext[T]) verdict(entity T) (matched, decided bool) {
	switch {
	case !rc.Refetch:
		return rc.Filter.Matches(entity), true
	case rc.Opaque:
		return false, false
	}
	return rc.Filter.MatchesLocally(entity)
}

func routeAdded[T collection.Identifiable](rules Rules[T], event events.ChangeEvent, rc RouteContext[T]) Action[T] {
	entity, ok := rules.cast(event.Entity)
	if !ok || !rules.inScope(event) {
		return ignore[T]()
	}
	matched, decided := rc.verdict(entity)
	switch {
	case !decided:
		return Action[T]{Kind: ActionRefetch}
	case !matched:
		return ignore[T]()
	}
	return Action[T]{Kind: ActionInsert, Entity: entity}
}

// routeUpdated re-checks admission on every update. Without a local verdict
// a held snapshot is refreshed in place and an absent one is refetched.
func routeUpdated[T collection.Identifiable](rules Rules[T], event events.ChangeEvent, rc RouteContext[T]) Action[T] {
	entity, ok := rules.cast(event.Entity)
	if !ok || !rules.inScope(event) {
		return ignore[T]()
	}
	matched, decided := rc.verdict(entity)
	switch {
	case !decided:
		return Action[T]{Kind: ActionRefresh, Entity: entity}
	case !matched:
		return Action[T]{Kind: ActionRemove, ID: entity.Identity()}
	}
	return Action[T]{Kind: ActionUpsert, Entity: entity}
}

func routeDeleted[T collection.Identifiable](rules Rules[T], event events.ChangeEvent) Action[T] {
	id := event.TargetID()
	if id == "" || !rules.inScope(event) {
		return ignore[T]()
	}
	return Action[T]{Kind: ActionRemove, ID: id}
}

func routeBatchAdded[T collection.Identifiable](rules Rules[T], event events.ChangeEvent, rc RouteContext[T]) Action[T] {
	if !rules.inScope(event) || len(event.Entities) == 0 {
		return ignore[T]()
	}
	if rc.Refetch {
		return Action[T]{Kind: ActionRefetch}
	}
	admitted := make([]T, 0, len(event.Entities))
	for _, payload := range event.Entities {
		entity, ok := rules.cast(payload)
		if ok && rc.Filter.Matches(entity) {
			admitted = append(admitted, entity)
		}
	}
	if len(admitted) == 0 {
		return ignore[T]()
	}
	return Action[T]{Kind: ActionMerge, Entities: admitted}
}

// routeChild addresses the immediate parent. Views without nesting treat
// children as ordinary members.
func routeChild[T collection.Identifiable](rules Rules[T], event events.ChangeEvent, rc RouteContext[T]) Action[T] {
	if !rc.Nested || event.ParentID == "" {
		switch event.Kind {
		case events.KindChildAdded:
			return routeAdded(rules, event, rc)
		case events.KindChildUpdated:
			return routeUpdated(rules, event, rc)
		default:
			return routeDeleted(rules, event)
		}
	}
	if !rules.inScope(event) {
		return ignore[T]()
	}

	switch event.Kind {
	case events.KindChildAdded:
		entity, ok := rules.cast(event.Entity)
		if !ok {
			return ignore[T]()
		}
		return Action[T]{Kind: ActionInsertChild, ParentID: event.ParentID, Entity: entity}
	case events.KindChildUpdated:
		entity, ok := rules.cast(event.Entity)
		if !ok {
			return ignore[T]()
		}
		return Action[T]{Kind: ActionUpdate, ID: entity.Identity(), Mutate: func(held T) T {
			if rules.Carry != nil {
				return rules.Carry(held, entity)
			}
			return entity
		}}
	default:
		id := event.TargetID()
		if id == "" {
			return ignore[T]()
		}
		return Action[T]{Kind: ActionRemoveChild, ParentID: event.ParentID, ID: id}
	}
}

// routeReaction either mutates the reaction target's summary or, when the
// view's subject is reactions, treats the reaction as a member.
func routeReaction[T collection.Identifiable](rules Rules[T], event events.ChangeEvent, rc RouteContext[T]) Action[T] {
	if rules.Type == events.EntityReaction {
		switch event.Kind {
		case events.KindReactionAdded:
			return routeAdded(rules, event, rc)
		case events.KindReactionUpdated:
			return routeUpdated(rules, event, rc)
		default:
			return routeDeleted(rules, event)
		}
	}

	if rules.ApplyReaction == nil || rules.ReactionTarget == "" {
		return ignore[T]()
	}
	if event.Scope.ObjectType != rules.ReactionTarget || event.ParentID == "" {
		return ignore[T]()
	}
	return Action[T]{Kind: ActionUpdate, ID: event.ParentID, Mutate: func(entity T) T {
		return rules.ApplyReaction(entity, event)
	}}
}
