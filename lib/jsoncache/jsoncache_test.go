package jsoncache

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stemsync/lib/chrono"
	"stemsync/lib/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func storeAt(now time.Time, tel telemetry.API) Store {
	return NewStore(tel, chrono.FixedTime{Time: now})
}

func TestReadAgeBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caches", "studentData.json")
	written := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

	err := storeAt(written, telemetry.Discard{}).Write(path, map[string]any{"1234": "Jane"})
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(path, written, written))

	maxAge := 4 * time.Hour
	cases := []struct {
		name   string
		now    time.Time
		expect map[string]any
	}{
		{"fresh", written.Add(time.Minute), map[string]any{"1234": "Jane"}},
		{"just under", written.Add(maxAge - time.Second), map[string]any{"1234": "Jane"}},
		{"exactly max age", written.Add(maxAge), map[string]any{}},
		{"stale", written.Add(maxAge + time.Hour), map[string]any{}},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			got := storeAt(test.now, telemetry.Discard{}).Read(path, maxAge)
			if diff := cmp.Diff(test.expect, got); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestReadDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0644))

	tel := &telemetry.Recorder{}
	store := NewStore(tel, nil)

	require.Empty(t, store.Read(filepath.Join(dir, "missing.json"), time.Hour))
	require.NotNil(t, store.Read(filepath.Join(dir, "missing.json"), time.Hour))
	require.Empty(t, store.Read(corrupt, time.Hour))
	require.Len(t, tel.Find(telemetry.LevelBroken, report_cache_read), 1)
}

func TestWriteStringFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "fileInfo.json")
	store := NewStore(telemetry.Discard{}, nil)

	updated := time.Date(2023, 3, 14, 10, 21, 0, 0, time.UTC)
	err := store.Write(path, map[string]any{
		"updated_on": updated,
		"channel":    make(chan int),
		"ratio":      math.NaN(),
		"nested": struct {
			Name    string    `json:"name"`
			When    time.Time `json:"when"`
			Skipped string    `json:"-"`
		}{Name: "Research Plan", When: updated, Skipped: "x"},
	})
	require.NoError(t, err)

	got := store.Read(path, time.Hour)
	require.Equal(t, "2023-03-14T10:21:00Z", got["updated_on"])
	require.IsType(t, "", got["channel"])
	require.Equal(t, "NaN", got["ratio"])
	require.Equal(t, map[string]any{
		"name": "Research Plan",
		"when": "2023-03-14T10:21:00Z",
	}, got["nested"])
}

func TestReadInto(t *testing.T) {
	type entry struct {
		Status    string    `json:"file_status"`
		UpdatedOn time.Time `json:"updated_on"`
	}

	path := filepath.Join(t.TempDir(), "typed.json")
	store := NewStore(telemetry.Discard{}, nil)
	in := map[string]entry{
		"Research Plan": {Status: "APPROVED", UpdatedOn: time.Date(2023, 3, 14, 10, 21, 0, 0, time.UTC)},
	}
	require.NoError(t, store.Write(path, in))

	var out map[string]entry
	require.True(t, store.ReadInto(path, time.Hour, &out))
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatal(diff)
	}
	require.False(t, store.ReadInto(path, 0, &out))
}
