package models

import "encoding/json"

// ExternalURLs holds a provider link set. The Spotify URL is decoded when the
// payload matches the documented shape; the full payload is always retained in
// Raw so unknown fields survive a round trip through the store.
type ExternalURLs struct {
	Spotify string
	Raw     json.RawMessage
}

// UnmarshalJSON keeps the raw payload and best-effort decodes the known shape.
func (e *ExternalURLs) UnmarshalJSON(b []byte) error {
	e.Raw = append(e.Raw[:0], b...)

	var known struct {
		Spotify string `json:"spotify"`
	}
	if err := json.Unmarshal(b, &known); err == nil {
		e.Spotify = known.Spotify
	}
	return nil
}

// MarshalJSON writes back the original payload when one was captured.
func (e ExternalURLs) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	if e.Spotify == "" {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string{"spotify": e.Spotify})
}

// IsZero reports whether no link set was present on the source payload.
func (e ExternalURLs) IsZero() bool {
	return len(e.Raw) == 0 && e.Spotify == ""
}

// PlayContext describes where a play event happened (playlist, album, artist
// radio). Spotify reports it as loosely typed JSON; the known fields are
// decoded and the original payload kept in Raw.
type PlayContext struct {
	Type         string
	Href         string
	ExternalURLs ExternalURLs
	Raw          json.RawMessage
}

// UnmarshalJSON keeps the raw payload and best-effort decodes the known shape.
func (c *PlayContext) UnmarshalJSON(b []byte) error {
	c.Raw = append(c.Raw[:0], b...)

	var known struct {
		Type         string       `json:"type"`
		Href         string       `json:"href"`
		ExternalURLs ExternalURLs `json:"external_urls"`
	}
	if err := json.Unmarshal(b, &known); err == nil {
		c.Type = known.Type
		c.Href = known.Href
		c.ExternalURLs = known.ExternalURLs
	}
	return nil
}

// MarshalJSON writes back the original payload when one was captured.
func (c PlayContext) MarshalJSON() ([]byte, error) {
	if len(c.Raw) > 0 {
		return c.Raw, nil
	}
	return json.Marshal(struct {
		Type         string       `json:"type,omitempty"`
		Href         string       `json:"href,omitempty"`
		ExternalURLs ExternalURLs `json:"external_urls,omitempty"`
	}{c.Type, c.Href, c.ExternalURLs})
}
