package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownEntityType indicates an envelope whose type has no registered decoder.
	ErrUnknownEntityType = errors.New("events: unknown entity type")
	// ErrInvalidEnvelope indicates an envelope that cannot be encoded or decoded.
	ErrInvalidEnvelope = errors.New("events: invalid envelope")
)

// Envelope is the JSON wire form of a ChangeEvent.
type Envelope struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Type      EntityType        `json:"type"`
	Entity    json.RawMessage   `json:"entity,omitempty"`
	Entities  []json.RawMessage `json:"entities,omitempty"`
	EntityID  string            `json:"entity_id,omitempty"`
	EntityIDs []string          `json:"entity_ids,omitempty"`
	ParentID  string            `json:"parent_id,omitempty"`
	Scope     Scope             `json:"scope"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewEnvelope encodes event payloads as raw JSON.
func NewEnvelope(event ChangeEvent) (Envelope, error) {
	envelope := Envelope{
		ID:        event.ID,
		Kind:      event.Kind,
		Type:      event.Type,
		EntityID:  event.EntityID,
		EntityIDs: event.EntityIDs,
		ParentID:  event.ParentID,
		Scope:     event.Scope,
		CreatedAt: event.CreatedAt,
	}
	if event.Entity != nil {
		raw, err := json.Marshal(event.Entity)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		envelope.Entity = raw
	}
	if len(event.Entities) > 0 {
		envelope.Entities = make([]json.RawMessage, 0, len(event.Entities))
		for _, entity := range event.Entities {
			raw, err := json.Marshal(entity)
			if err != nil {
				return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
			}
			envelope.Entities = append(envelope.Entities, raw)
		}
	}
	return envelope, nil
}

// Decoder turns a raw entity payload into its typed value.
type Decoder func(json.RawMessage) (any, error)

// Codec decodes envelopes into typed events through a per-type registry.
type Codec struct {
	decoders map[EntityType]Decoder
}

// NewCodec returns an empty codec.
func NewCodec() *Codec {
	return &Codec{decoders: make(map[EntityType]Decoder)}
}

// Register binds a decoder to an entity type.
func (c *Codec) Register(entityType EntityType, decoder Decoder) {
	c.decoders[entityType] = decoder
}

// RegisterType binds the JSON decoder for T to an entity type.
func RegisterType[T any](codec *Codec, entityType EntityType) {
	codec.Register(entityType, func(raw json.RawMessage) (any, error) {
		var value T
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, err
		}
		return value, nil
	})
}

// Decode converts an envelope into a ChangeEvent with typed payloads.
// Reaction-kind envelopes decode their entity with the reaction decoder.
func (c *Codec) Decode(envelope Envelope) (ChangeEvent, error) {
	event := ChangeEvent{
		ID:        envelope.ID,
		Kind:      envelope.Kind,
		Type:      envelope.Type,
		EntityID:  envelope.EntityID,
		EntityIDs: envelope.EntityIDs,
		ParentID:  envelope.ParentID,
		Scope:     envelope.Scope,
		CreatedAt: envelope.CreatedAt,
	}
	if event.Kind == "" {
		return ChangeEvent{}, fmt.Errorf("%w: missing kind", ErrInvalidEnvelope)
	}
	if len(envelope.Entity) == 0 && len(envelope.Entities) == 0 {
		return event, nil
	}

	decoder, ok := c.decoders[envelope.Type]
	if !ok {
		return ChangeEvent{}, fmt.Errorf("%w: %s", ErrUnknownEntityType, envelope.Type)
	}
	if len(envelope.Entity) > 0 && string(envelope.Entity) != "null" {
		entity, err := decoder(envelope.Entity)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("%w: %s entity: %v", ErrInvalidEnvelope, envelope.Type, err)
		}
		event.Entity = entity
	}
	if len(envelope.Entities) > 0 {
		event.Entities = make([]any, 0, len(envelope.Entities))
		for _, raw := range envelope.Entities {
			entity, err := decoder(raw)
			if err != nil {
				return ChangeEvent{}, fmt.Errorf("%w: %s entities: %v", ErrInvalidEnvelope, envelope.Type, err)
			}
			event.Entities = append(event.Entities, entity)
		}
	}
	return event, nil
}
