package lock

import (
	"encoding/json"
	"fmt"
	"time"
)

// SerializedLock is the portable form of a Lock. Durations are milliseconds
// and the expiration is milliseconds since the Unix epoch; nil means none.
type SerializedLock struct {
	Key            string `json:"key"`
	Owner          string `json:"owner"`
	TTL            *int64 `json:"ttl"`
	ExpirationTime *int64 `json:"expirationTime"`
}

// Serialize snapshots the lock identity and local expiry estimate.
func (l *Lock) Serialize() SerializedLock {
	s := SerializedLock{Key: l.key, Owner: l.owner}
	if l.ttl > 0 {
		ttl := l.ttl.Milliseconds()
		s.TTL = &ttl
	}
	if exp := l.ExpiresAt(); !exp.IsZero() {
		ms := exp.UnixMilli()
		s.ExpirationTime = &ms
	}
	return s
}

// MarshalJSON encodes the lock as its SerializedLock.
func (l *Lock) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Serialize())
}

// UnmarshalSerializedLock decodes a snapshot produced by Serialize.
func UnmarshalSerializedLock(data []byte) (SerializedLock, error) {
	var s SerializedLock
	if err := json.Unmarshal(data, &s); err != nil {
		return SerializedLock{}, fmt.Errorf("verrou: decode serialized lock: %w", err)
	}
	return s, nil
}

// Expiration returns the snapshot expiry, zero when there is none.
func (s SerializedLock) Expiration() time.Time {
	if s.ExpirationTime == nil {
		return time.Time{}
	}
	return time.UnixMilli(*s.ExpirationTime)
}
