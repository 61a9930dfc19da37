package session

import (
	"encoding/json"
	"strings"
)

// Profile is the user record returned at login. It is stored verbatim and only ever used for display.
type Profile json.RawMessage

func NewProfile(v any) (Profile, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return Profile(raw), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (p Profile) Empty() bool {
	trimmed := strings.TrimSpace(string(p))
	return trimmed == "" || trimmed == "null"
}

// Name returns the best display name found in the profile, or "".
func (p Profile) Name() string {
	if p.Empty() {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"name", "email"} {
		if s, ok := fields[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func (p Profile) MarshalJSON() ([]byte, error) {
	if p.Empty() {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *Profile) UnmarshalJSON(data []byte) error {
	*p = append((*p)[:0], data...)
	return nil
}
