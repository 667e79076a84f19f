package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger returns a text logger writing to `w`, colored only when `w` is
// a file.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	_, isFile := w.(*os.File)
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !isFile,
	}))
}

// InitSlog makes a stderr NewLogger the default logger.
func InitSlog(verbose bool) {
	slog.SetDefault(NewLogger(os.Stderr, verbose))
}

// SlogAPI sends reports to the default slog logger. Errors in the params
// are logged under "err", everything else by position.
type SlogAPI struct{}

func attrs(id string, params []any) []any {
	out := make([]any, 0, len(params)+1)
	if id != "" {
		out = append(out, slog.String("id", id))
	}
	position := 0
	for _, p := range params {
		if err, ok := p.(error); ok {
			out = append(out, tint.Err(err))
			continue
		}
		out = append(out, slog.Any(strconv.Itoa(position), p))
		position++
	}
	return out
}

func (SlogAPI) ReportBroken(id string, params ...any) {
	slog.Error("broken", attrs(id, params)...)
}

func (SlogAPI) ReportWarning(id string, params ...any) {
	slog.Warn("warning", attrs(id, params)...)
}

func (SlogAPI) ReportDebug(message string, params ...any) {
	slog.Debug(message, attrs("", params)...)
}

func (SlogAPI) ReportCount(id string, count int64) {
	slog.Info("count", "id", id, "n", count)
}
