package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	v1 "parley/contracts/realtime/v1"
)

func newEnvelope(typ string, payload any, now time.Time) (v1.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	id, err := NewEnvelopeID(now)
	if err != nil {
		return v1.Envelope{}, fmt.Errorf("envelope id: %w", err)
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      now.UTC(),
		Payload: raw,
	}, nil
}
