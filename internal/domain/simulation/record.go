package simulation

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// MatchRecord is the persisted form of a finished match.
type MatchRecord struct {
	MatchID   string    `json:"match_id" msgpack:"match_id"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
	Outcome   Outcome   `json:"outcome" msgpack:"outcome"`
}

// EncodeOutcome serializes an outcome into the compact replay blob clients download.
func EncodeOutcome(o Outcome) ([]byte, error) {
	b, err := msgpack.Marshal(&o)
	if err != nil {
		return nil, fmt.Errorf("encode outcome: %w", err)
	}
	return b, nil
}

// DecodeOutcome is the inverse of EncodeOutcome.
func DecodeOutcome(b []byte) (Outcome, error) {
	var o Outcome
	if err := msgpack.Unmarshal(b, &o); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrDecodeRecord, err)
	}
	return o, nil
}
