package fairdata

import (
	"bytes"
	"strings"
	"time"

	"stemsync/lib/chrono"

	"github.com/goccy/go-json"
)

// Stamp is a timestamp rendered by the portal. When the text could not be
// parsed the raw text is kept instead so no information is lost.
type Stamp struct {
	Time time.Time
	Raw  string
}

// ParseStamp parses `raw` leniently in `loc`, it returns nil for empty text.
func ParseStamp(raw string, loc *time.Location) *Stamp {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parsed, err := chrono.ParseLenient(raw, loc)
	if err != nil {
		return &Stamp{Raw: raw}
	}
	return &Stamp{Time: parsed, Raw: raw}
}

// Parsed reports whether the stamp carries an actual time.
func (s *Stamp) Parsed() bool {
	return s != nil && !s.Time.IsZero()
}

func (s *Stamp) String() string {
	if s == nil {
		return ""
	}
	if !s.Time.IsZero() {
		return s.Time.Format(time.RFC3339)
	}
	return s.Raw
}

func (s Stamp) MarshalJSON() ([]byte, error) {
	if s.Time.IsZero() && s.Raw == "" {
		return []byte("null"), nil
	}
	return json.Marshal(s.String())
}

func (s *Stamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = Stamp{}
		return nil
	}
	var text string
	err := json.Unmarshal(data, &text)
	if err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339, text)
	if err == nil {
		*s = Stamp{Time: parsed, Raw: text}
		return nil
	}
	// older caches hold the portal text as-is, it is parsed by Localize
	// once the portal's zone is known
	*s = Stamp{Raw: text}
	return nil
}

// Localize parses the raw text of an unparsed stamp in `loc`.
func (s *Stamp) Localize(loc *time.Location) {
	if s == nil || s.Parsed() || s.Raw == "" {
		return
	}
	if parsed, err := chrono.ParseLenient(s.Raw, loc); err == nil {
		s.Time = parsed
	}
}

// Localize parses the unparsed stamps of every entry in `loc`.
func (m Manifest) Localize(loc *time.Location) {
	for _, entry := range m {
		if entry == nil {
			continue
		}
		entry.UpdatedOn.Localize(loc)
		entry.ApprovedOn.Localize(loc)
	}
}
