package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newTestCodec() *Codec {
	codec := NewCodec()
	RegisterType[testEntity](codec, EntityActivity)
	RegisterType[testEntity](codec, EntityReaction)
	return codec
}

func TestCodecDecodesEnvelopeThroughJSON(t *testing.T) {
	event := Stamp(Added(EntityActivity, Scope{FeedID: "user:1"}, testEntity{ID: "a1", Text: "hello"}), time.Now())
	envelope, err := NewEnvelope(event)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var wire Envelope
	if err := json.Unmarshal(payload, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	decoded, err := newTestCodec().Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	entity, ok := decoded.Entity.(testEntity)
	if !ok {
		t.Fatalf("expected testEntity payload, got %T", decoded.Entity)
	}
	if entity.Text != "hello" || decoded.Scope.FeedID != "user:1" || decoded.ID != event.ID {
		t.Fatalf("unexpected decoded event %+v", decoded)
	}
}

func TestCodecDecodesBatchAndIDOnlyEvents(t *testing.T) {
	codec := newTestCodec()

	batch, err := NewEnvelope(BatchAdded(EntityActivity, Scope{}, []any{testEntity{ID: "a1"}, testEntity{ID: "a2"}}))
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	decoded, err := codec.Decode(batch)
	if err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(decoded.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(decoded.Entities))
	}

	removed, err := NewEnvelope(BatchRemoved(EntityBookmark, Scope{}, []string{"b1", "b2"}))
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	decoded, err = codec.Decode(removed)
	if err != nil {
		t.Fatalf("decode removal without payload should not need a decoder: %v", err)
	}
	if len(decoded.EntityIDs) != 2 {
		t.Fatalf("expected 2 ids, got %v", decoded.EntityIDs)
	}
}

func TestCodecRejectsUnknownTypeAndMissingKind(t *testing.T) {
	codec := newTestCodec()

	_, err := codec.Decode(Envelope{Kind: KindAdded, Type: EntityPoll, Entity: json.RawMessage(`{"id":"p1"}`)})
	if !errors.Is(err, ErrUnknownEntityType) {
		t.Fatalf("expected ErrUnknownEntityType, got %v", err)
	}

	_, err = codec.Decode(Envelope{Type: EntityActivity})
	if !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestChildDeletedCarriesEntityID(t *testing.T) {
	event := Child(KindChildDeleted, EntityComment, Scope{ObjectID: "a1"}, "c1", testEntity{ID: "c2"})
	if event.EntityID != "c2" || event.ParentID != "c1" {
		t.Fatalf("unexpected child event %+v", event)
	}
	if !event.Kind.IsChild() || event.Kind.IsReaction() {
		t.Fatalf("unexpected kind classification for %s", event.Kind)
	}
}
