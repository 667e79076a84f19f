package telemetry

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlogAPI(t *testing.T) {
	var out bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(NewLogger(&out, true))
	t.Cleanup(func() { slog.SetDefault(previous) })

	tel := NewScopedAPI("portal", SlogAPI{}).Scope("session")
	tel.ReportBroken("download", errors.New("status 500"), "/fairadmin/fileDownload")
	tel.ReportDebug("received export", "judge")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "portal: session: download")
	require.Contains(t, lines[0], "status 500")
	require.Contains(t, lines[0], "0=/fairadmin/fileDownload")
	require.Contains(t, lines[1], "portal: session: received export")
	require.Contains(t, lines[1], "0=judge")
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	tel := NewScopedAPI("drive", rec)
	tel.ReportWarning("drive.list-all", "timeout")
	tel.ReportCount("drive.list-all", 12)

	require.Len(t, rec.Find(LevelWarning, "list-all"), 1)
	counts := rec.Find(LevelCount, "drive: drive.list-all")
	require.Len(t, counts, 1)
	require.EqualValues(t, 12, counts[0].Count)
	require.Empty(t, rec.Find(LevelBroken, ""))
}
