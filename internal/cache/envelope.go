package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

var errBadEnvelope = errors.New("cache: malformed entry")

// envelopeHeader precedes every stored payload on its own line. The payload
// follows untouched so a hit returns exactly the bytes that were written.
type envelopeHeader struct {
	StoredAt   int64   `json:"storedAt"`
	TTLSeconds float64 `json:"ttlSeconds"`
}

func (h envelopeHeader) expiresAt() time.Time {
	return time.UnixMilli(h.StoredAt).Add(time.Duration(h.TTLSeconds * float64(time.Second)))
}

func encodeEnvelope(payload []byte, storedAt time.Time, ttl time.Duration) ([]byte, error) {
	header, err := json.Marshal(envelopeHeader{
		StoredAt:   storedAt.UnixMilli(),
		TTLSeconds: ttl.Seconds(),
	})
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(header)+1+len(payload))
	out = append(out, header...)
	out = append(out, '\n')
	return append(out, payload...), nil
}

// decodeEnvelope returns the payload, or ok=false when the entry has expired.
func decodeEnvelope(raw []byte, now time.Time) ([]byte, bool, error) {
	idx := bytes.IndexByte(raw, '\n')
	if idx < 0 {
		return nil, false, errBadEnvelope
	}
	var header envelopeHeader
	if err := json.Unmarshal(raw[:idx], &header); err != nil {
		return nil, false, errBadEnvelope
	}
	if header.TTLSeconds > 0 && !now.Before(header.expiresAt()) {
		return nil, false, nil
	}
	return raw[idx+1:], true, nil
}
