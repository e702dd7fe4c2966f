package portal

import (
	"bytes"
	"encoding/json"
)

// ExtractJSON returns raw starting at its first '{'. Some portals prepend PHP notices,
// a BOM or other junk to load.php output; everything before the first object brace is
// dropped. Returns nil when raw contains no '{' at all.
func ExtractJSON(raw []byte) []byte {
	i := bytes.IndexByte(raw, '{')
	if i < 0 {
		return nil
	}
	return raw[i:]
}

// envelope is the JsHttpRequest wrapper every load.php answer uses.
type envelope struct {
	JS json.RawMessage `json:"js"`
}

// decodeEnvelope parses raw tolerantly. Unparseable bodies yield an empty envelope,
// so callers see missing fields rather than a decode error.
func decodeEnvelope(raw []byte) envelope {
	var env envelope
	body := ExtractJSON(raw)
	if body == nil {
		return env
	}
	if err := json.Unmarshal(body, &env); err != nil {
		// Trailing junk after the object is also common; decode just the first value.
		dec := json.NewDecoder(bytes.NewReader(body))
		env = envelope{}
		if dec.Decode(&env) != nil {
			return envelope{}
		}
	}
	return env
}

// present reports whether the js field (or a sub-field) carries a non-null value.
func present(m json.RawMessage) bool {
	m = bytes.TrimSpace(m)
	return len(m) > 0 && !bytes.Equal(m, []byte("null"))
}

func snippet(raw []byte) string {
	const max = 200
	s := string(bytes.TrimSpace(raw))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
