package publish

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// maxScalarLen caps each stringified payload value.
	maxScalarLen = 500
	// maxPayloadBytes caps the whole serialized payload; oversized
	// payloads collapse to a fixed key subset instead of being dropped.
	maxPayloadBytes = 10 * 1024
)

// coreKeys is the fallback subset kept when a payload blows the size cap.
var coreKeys = []string{"event_type", "product_id", "country_code", "timestamp", "site"}

// PreparePayload stringifies and truncates every value, stamps the
// message with the current time and site id, and enforces the total size
// cap.
func PreparePayload(payload map[string]any, siteID string, now time.Time) map[string]any {
	out := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		out[k] = clampScalar(v)
	}
	out["timestamp"] = now.UTC().Format(time.RFC3339)
	out["site"] = clampScalar(siteID)

	if encoded, err := json.Marshal(out); err == nil && len(encoded) <= maxPayloadBytes {
		return out
	}

	reduced := make(map[string]any, len(coreKeys))
	for _, k := range coreKeys {
		if v, ok := out[k]; ok {
			reduced[k] = v
		}
	}
	return reduced
}

func clampScalar(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprintf("%v", t)
	}
	if len(s) > maxScalarLen {
		s = s[:maxScalarLen]
	}
	return s
}
