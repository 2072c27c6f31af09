package state

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

const LadderSnapshotKey = "ladder:last_snapshot"

// SlotSnapshot is one persisted slot record. It mirrors the ledger's view
// at the end of a cycle; the broker remains the source of truth and the
// snapshot is only advisory status for operators.
type SlotSnapshot struct {
	Index    int       `json:"index"`
	Price    string    `json:"price"`
	Side     string    `json:"side"`
	State    string    `json:"state"`
	OrderID  string    `json:"order_id,omitempty"`
	OpenedAt time.Time `json:"opened_at,omitempty"`
	FilledAt time.Time `json:"filled_at,omitempty"`
}

type LadderSnapshot struct {
	Instrument   string         `json:"instrument"`
	CurrentPrice string         `json:"current_price"`
	Slots        []SlotSnapshot `json:"slots"`
	Halted       bool           `json:"halted"`
	HaltReason   string         `json:"halt_reason,omitempty"`
	UpdatedAtMS  int64          `json:"updated_at_ms"`
}

func LoadLadderSnapshot(ctx context.Context, store Store) (LadderSnapshot, bool, error) {
	if store == nil {
		return LadderSnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, LadderSnapshotKey)
	if err != nil {
		return LadderSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return LadderSnapshot{}, false, nil
	}
	var snapshot LadderSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return LadderSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveLadderSnapshot(ctx context.Context, store Store, snapshot LadderSnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, LadderSnapshotKey, string(payload))
}
