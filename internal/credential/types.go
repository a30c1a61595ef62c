// Package credential holds the credentials exchanged for each connected
// platform during a session.
package credential

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Credential is the opaque payload a platform's authorization exchange
// produces, e.g. {"access_token": "...", "token_type": "bearer"}.
// Its schema belongs to the platform; portage never interprets it beyond
// the helpers below.
type Credential map[string]any

// Empty reports whether the credential carries no data.
func (c Credential) Empty() bool {
	return len(c) == 0
}

// Encode serializes the credential as JSON for form fields.
func (c Credential) Encode() (string, error) {
	if c.Empty() {
		return "", fmt.Errorf("encoding credential: empty payload")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding credential: %w", err)
	}
	return string(data), nil
}

// Decode parses a JSON object into a Credential. JSON null and "{}" yield an
// empty credential without error.
func Decode(data []byte) (Credential, error) {
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding credential: %w", err)
	}
	return c, nil
}

// Clone returns a deep copy so callers cannot mutate a stored credential.
func (c Credential) Clone() Credential {
	if c == nil {
		return nil
	}
	out := make(Credential, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

// Keys returns the sorted top-level keys. Used for logging, where values
// must never appear.
func (c Credential) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AccessToken returns the "access_token" field when it is a string.
func (c Credential) AccessToken() string {
	if tok, ok := c["access_token"].(string); ok {
		return tok
	}
	return ""
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Credential(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
