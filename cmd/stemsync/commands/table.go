package commands

import (
	"os"
	"sync"
	"time"

	"stemsync/internal/fairsync"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func renderReport(report fairsync.Report) {
	t := newTable()
	t.AppendHeader(table.Row{"Stage", "Records", "Records skipped", "Downloaded", "Uploaded", "Skipped", "Not uploaded", "Failed", "Time"})
	for _, row := range report {
		s := row.Stats
		t.AppendRow(table.Row{
			row.Stage, s.Records, s.RecordsSkipped, s.Downloaded, s.Uploaded,
			s.Skipped, s.NotUploaded, s.Failed, row.Elapsed.Round(time.Millisecond),
		})
	}
	t.Render()
}

// stageProgress renders one progress bar per sync stage on stderr.
type stageProgress struct {
	writer progress.Writer

	mutex    sync.Mutex
	trackers map[string]*progress.Tracker
}

func newStageProgress() *stageProgress {
	pw := progress.NewWriter()
	pw.SetOutputWriter(os.Stderr)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(30)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.SetStyle(progress.StyleDefault)
	go pw.Render()
	return &stageProgress{writer: pw, trackers: map[string]*progress.Tracker{}}
}

func (p *stageProgress) update(stage string, done, total int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	tracker, ok := p.trackers[stage]
	if !ok {
		tracker = &progress.Tracker{Message: stage, Total: int64(total), Units: progress.UnitsDefault}
		p.writer.AppendTracker(tracker)
		p.trackers[stage] = tracker
	}
	tracker.UpdateTotal(int64(total))
	tracker.SetValue(int64(done))
	if done >= total {
		tracker.MarkAsDone()
	}
}

func (p *stageProgress) stop() {
	p.mutex.Lock()
	for _, tracker := range p.trackers {
		if !tracker.IsDone() {
			tracker.MarkAsErrored()
		}
	}
	p.mutex.Unlock()
	// let the last frame render
	time.Sleep(150 * time.Millisecond)
	p.writer.Stop()
}
