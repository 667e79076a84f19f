package chrono

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// DefaultLocation is the zone portal timestamps are rendered in when the
// configuration does not say otherwise.
const DefaultLocation = "America/New_York"

// TimeAPI is the interface that anything depending on the system clock should use.
type TimeAPI interface {
	Now() time.Time
}

// StandardTime is the standard implementation of TimeAPI using the standard library.
type StandardTime struct {
	Location *time.Location
}

// NewStandardTime loads `location`, an empty string means DefaultLocation.
func NewStandardTime(location string) (StandardTime, error) {
	loc, err := LoadLocation(location)
	if err != nil {
		return StandardTime{}, err
	}
	return StandardTime{Location: loc}, nil
}

func (s StandardTime) Now() time.Time {
	if s.Location == nil {
		return time.Now()
	}
	return time.Now().In(s.Location)
}

// FixedTime always returns the same instant.
type FixedTime struct {
	Time time.Time
}

func (f FixedTime) Now() time.Time {
	return f.Time
}

func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultLocation
	}
	return time.LoadLocation(name)
}

// ParseLenient parses the locale formatted timestamps the portal renders
// ("03/14/2023 10:21 AM", "Mar 14, 2023 10:21am", ...). Values without a
// zone are interpreted in `loc`.
func ParseLenient(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if loc == nil {
		loc = time.UTC
	}
	return dateparse.ParseIn(value, loc)
}
