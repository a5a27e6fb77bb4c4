package events

import (
	"encoding/json"
	"time"
)

const (
	KindTransactionCreated = "transaction.created"
	KindTransactionUpdated = "transaction.updated"
	KindTransactionDeleted = "transaction.deleted"
	KindEntityChanged      = "entity.changed"
)

// LedgerEvent notifies downstream consumers that a user's data changed on
// the server of record. It carries identifiers only; consumers fetch fresh
// state through the API.
type LedgerEvent struct {
	Kind       string    `json:"kind"`
	UserID     string    `json:"userId"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewLedgerEvent(kind, userID, entityType, entityID string) *LedgerEvent {
	return &LedgerEvent{
		Kind:       kind,
		UserID:     userID,
		EntityType: entityType,
		EntityID:   entityID,
		Timestamp:  time.Now().UTC(),
	}
}

func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
