package registry

import (
	"bytes"
	"encoding/json"
)

// IdentityFromJSON turns a client-supplied deviceId or username into the
// string the registry stores. Strings are used as-is; any other JSON value is
// kept as its compact JSON text, so a numeric id 7 and the string "7" name the
// same device. null and empty input report false.
func IdentityFromJSON(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		return s, true
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", false
	}
	return buf.String(), true
}
