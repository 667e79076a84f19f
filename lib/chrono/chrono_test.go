package chrono

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseLenient(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)

	cases := []struct {
		value  string
		expect time.Time
	}{
		{"03/14/2023 10:21 AM", time.Date(2023, 3, 14, 10, 21, 0, 0, loc)},
		{" 2023-03-14 10:21:00 ", time.Date(2023, 3, 14, 10, 21, 0, 0, loc)},
		{"March 14, 2023", time.Date(2023, 3, 14, 0, 0, 0, 0, loc)},
	}

	for _, test := range cases {
		parsed, err := ParseLenient(test.value, loc)
		require.NoError(t, err, test.value)
		require.True(t, test.expect.Equal(parsed), "%s: %v != %v", test.value, test.expect, parsed)
	}

	_, err = ParseLenient("not uploaded", loc)
	require.Error(t, err)
}

func TestFixedTime(t *testing.T) {
	now := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	var clock TimeAPI = FixedTime{Time: now}
	require.Equal(t, now, clock.Now())
}
