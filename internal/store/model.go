package store

// Record is the persisted form of any entity. The payload is the entity's
// JSON snapshot; the key columns narrow lookups before the payload is decoded.
type Record struct {
	EntityType       string `gorm:"column:entity_type;primaryKey;size:64;not null"`
	EntityID         string `gorm:"column:entity_id;primaryKey;size:190;not null"`
	ParentID         string `gorm:"column:parent_id;size:190;index"`
	ObjectID         string `gorm:"column:object_id;size:190;index"`
	FeedID           string `gorm:"column:feed_id;size:190;index"`
	UserID           string `gorm:"column:user_id;size:190;index"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName exposes the table backing entity records.
func (Record) TableName() string {
	return "entity_records"
}

// Keys are the indexed columns of a record. Empty keys do not narrow a lookup.
type Keys struct {
	ParentID string
	ObjectID string
	FeedID   string
	UserID   string
}
