package source

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadySynced is returned by MarkSynced when the record is missing or
// was already handed to the destination.
var ErrAlreadySynced = errors.New("record already synced")

// Record is a syncable case record owned by the source store. This service
// only ever writes its sync marker.
type Record struct {
	ID             string   `db:"id" json:"id"`
	ContentType    string   `db:"content_type" json:"content_type"`
	RelevancyScore int      `db:"relevancy_score" json:"relevancy_score"`
	RawText        string   `db:"raw_text" json:"raw_text"`
	RawMetadata    Metadata `db:"raw_metadata" json:"raw_metadata"`
	Synced         bool     `db:"synced" json:"synced"`
	DestinationID  *string  `db:"destination_id" json:"destination_id,omitempty"`
}

// Metadata is the free-form record metadata, stored as a JSON document
type Metadata map[string]any

// Value implements driver.Valuer
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}

	if len(data) == 0 {
		*m = Metadata{}
		return nil
	}

	decoded := Metadata{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}
	*m = decoded
	return nil
}

// CandidateQuery selects unsynced records eligible for a sync run
type CandidateQuery struct {
	MinRelevancy int
	ContentTypes []string
	Limit        int
}

// Source is the case-management store the orchestrator pulls from
type Source interface {
	Candidates(ctx context.Context, q CandidateQuery) ([]Record, error)
	MarkSynced(ctx context.Context, id, destinationID string) error
	Close() error
}

// Stats summarizes the syncable table
type Stats struct {
	Total    int64 `db:"total" json:"total"`
	Synced   int64 `db:"synced" json:"synced"`
	Unsynced int64 `db:"unsynced" json:"unsynced"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted   int64         `json:"inserted"`
	Duplicates int64         `json:"duplicates"`
	Duration   time.Duration `json:"duration"`
}
