package api_v1

import (
	"fmt"
	"time"
)

// Timestamp is the client-asserted signing time, RFC 3339 encoded.
// It is part of the signed payload, so freshness is checked only after
// the signature itself has been validated.
type Timestamp string

func (t Timestamp) Validate() error {
	ts, err := time.Parse(time.RFC3339, string(t))
	if err != nil {
		return fmt.Errorf("request timestamp is not a valid RFC 3339 time: %s", err)
	}
	if time.Since(ts).Seconds() > MaxTimestampAge {
		return fmt.Errorf("request timestamp is too old")
	}
	return nil
}
