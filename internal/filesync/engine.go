package filesync

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"stemsync/internal/drive"
	"stemsync/internal/fairdata"
	"stemsync/lib/telemetry"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("internal/filesync")

const (
	report_download      = "filesync.download"
	report_upload        = "filesync.upload"
	report_no_source     = "filesync.no-source"
	report_local_stat    = "filesync.local-stat"
	report_not_uploaded  = "filesync.not-uploaded"
	report_unparsed_time = "filesync.unparsed-time"
)

// Downloader fetches portal files, it is implemented by portal.Session.
type Downloader interface {
	DownloadUpload(ctx context.Context, uploadedName, dst string) error
	DownloadURL(ctx context.Context, url, dst string) error
}

type Reason string

const (
	ReasonNeverProvided Reason = "never provided"
	ReasonNotUploaded   Reason = "not uploaded yet"
	ReasonStatus        Reason = "status"
	ReasonUpToDate      Reason = "up to date"
	ReasonMissing       Reason = "missing locally"
	ReasonNoRemoteTime  Reason = "no remote time"
	ReasonUnparsedTime  Reason = "unparsed remote time"
	ReasonStale         Reason = "remote is newer"
)

type Decision struct {
	Download bool
	Reason   Reason
}

// Decide returns whether `entry` has to be downloaded given the
// modification time of the local copy, nil when there is none. An entry
// without an update time is always downloaded while one whose time could
// not be parsed is downloaded only when there is no local copy.
func Decide(entry *fairdata.FileManifestEntry, local *time.Time) Decision {
	switch {
	case entry.NeverProvided():
		return Decision{Reason: ReasonNeverProvided}
	case entry.NotUploaded():
		return Decision{Reason: ReasonNotUploaded}
	case !entry.Status.Downloadable():
		return Decision{Reason: ReasonStatus}
	case local == nil:
		return Decision{Download: true, Reason: ReasonMissing}
	case entry.UpdatedOn == nil:
		return Decision{Download: true, Reason: ReasonNoRemoteTime}
	case !entry.UpdatedOn.Parsed():
		// only the portal's text is known, the local copy is kept
		return Decision{Reason: ReasonUnparsedTime}
	case local.Before(entry.UpdatedOn.Time):
		return Decision{Download: true, Reason: ReasonStale}
	}
	return Decision{Reason: ReasonUpToDate}
}

// NeedsUpload reports whether the local copy is strictly newer than the
// remote one. Drives keep second precision.
func NeedsUpload(local time.Time, remote drive.Node, exists bool) bool {
	if !exists {
		return true
	}
	return local.Truncate(time.Second).After(remote.Modified.Truncate(time.Second))
}

type Stats struct {
	Records        int
	RecordsSkipped int
	Downloaded     int
	Uploaded       int
	Skipped        int
	NotUploaded    int
	Failed         int
}

func (s *Stats) Add(other Stats) {
	s.Records += other.Records
	s.RecordsSkipped += other.RecordsSkipped
	s.Downloaded += other.Downloaded
	s.Uploaded += other.Uploaded
	s.Skipped += other.Skipped
	s.NotUploaded += other.NotUploaded
	s.Failed += other.Failed
}

type Engine struct {
	Fs         afero.Fs
	Layout     Layout
	Downloader Downloader
	// Drive is optional, uploads are disabled without one.
	Drive     drive.Drive
	DriveRoot string
	Download  bool
	Upload    bool
	Tel       telemetry.API
	// OnRecord is called after every record, for progress reporting.
	OnRecord func(id string)
}

func (e *Engine) tel() telemetry.API {
	if e.Tel == nil {
		return telemetry.Discard{}
	}
	return e.Tel
}

func (e *Engine) localMtime(p string) *time.Time {
	if p == "" {
		return nil
	}
	info, err := e.Fs.Stat(p)
	if err != nil {
		return nil
	}
	mtime := info.ModTime()
	return &mtime
}

func isUrl(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}

func (e *Engine) transfer(ctx context.Context, entry *fairdata.FileManifestEntry) error {
	switch {
	case entry.UploadedFileName != "":
		return e.Downloader.DownloadUpload(ctx, entry.UploadedFileName, entry.LocalPath)
	case isUrl(entry.FileURL):
		return e.Downloader.DownloadURL(ctx, entry.FileURL, entry.LocalPath)
	}
	return fmt.Errorf("filesync: %s has no download source", entry.DocumentType)
}

type run struct {
	downloaded map[string]bool
	uploaded   map[string]bool
	stats      Stats
}

// Sync brings the local copy (and the drive copy when uploads are enabled)
// of every record's files up to date. Records are processed one at a time,
// failures are counted and skipped. The context is checked between records.
func (e *Engine) Sync(ctx context.Context, records fairdata.Records) (Stats, error) {
	ctx, span := tracer.Start(ctx, "engine:Sync")
	defer span.End()

	e.Layout.PlanNames(records)
	state := &run{downloaded: map[string]bool{}, uploaded: map[string]bool{}}

	for _, id := range sortedIds(records) {
		if err := ctx.Err(); err != nil {
			return state.stats, err
		}
		record := records[id]
		state.stats.Records++
		if len(record.Files) == 0 {
			state.stats.RecordsSkipped++
		}
		for _, docType := range sortedTypes(record.Files) {
			entry := record.Files[docType]
			if entry == nil {
				continue
			}
			e.syncEntry(ctx, state, record, entry)
		}
		if e.OnRecord != nil {
			e.OnRecord(id)
		}
	}
	return state.stats, nil
}

func (e *Engine) syncEntry(ctx context.Context, state *run, record *fairdata.StudentRecord, entry *fairdata.FileManifestEntry) {
	tel := e.tel()
	entry.LocalMtime = e.localMtime(entry.LocalPath)

	decision := Decide(entry, entry.LocalMtime)
	switch decision.Reason {
	case ReasonNeverProvided, ReasonStatus, ReasonUpToDate:
		state.stats.Skipped++
	case ReasonNotUploaded:
		state.stats.NotUploaded++
		tel.ReportDebug(report_not_uploaded, record.Id, entry.DocumentType)
	case ReasonUnparsedTime:
		state.stats.Skipped++
		tel.ReportWarning(report_unparsed_time, record.Id, entry.DocumentType, entry.UpdatedOn.Raw)
	}

	if decision.Download && e.Download && !state.downloaded[entry.LocalPath] {
		err := e.transfer(ctx, entry)
		if err != nil {
			state.stats.Failed++
			id := report_download
			if entry.UploadedFileName == "" && !isUrl(entry.FileURL) {
				id = report_no_source
			}
			tel.ReportBroken(id, err, record.Id, entry.DocumentType)
			return
		}
		state.downloaded[entry.LocalPath] = true
		state.stats.Downloaded++
		entry.LocalMtime = e.localMtime(entry.LocalPath)
		if entry.LocalMtime == nil {
			tel.ReportWarning(report_local_stat, record.Id, entry.LocalPath)
		}
	}

	if e.Upload && e.Drive != nil && entry.LocalMtime != nil {
		e.upload(ctx, state, record, entry)
	}
}

func (e *Engine) upload(ctx context.Context, state *run, record *fairdata.StudentRecord, entry *fairdata.FileManifestEntry) {
	tel := e.tel()
	remoteDir := e.Layout.RemoteDir(e.DriveRoot, record)
	remotePath := path.Join(remoteDir, entry.LocalFilename)
	if state.uploaded[remotePath] {
		return
	}

	node, exists, err := e.Drive.Find(ctx, remotePath)
	if err != nil {
		state.stats.Failed++
		tel.ReportBroken(report_upload, err, remotePath)
		return
	}
	if !NeedsUpload(*entry.LocalMtime, node, exists) {
		return
	}
	if _, err := drive.EnsureFolder(ctx, e.Drive, remoteDir); err != nil {
		state.stats.Failed++
		tel.ReportBroken(report_upload, err, remoteDir)
		return
	}
	if _, err := e.Drive.CreateFile(ctx, entry.LocalPath, remotePath); err != nil {
		state.stats.Failed++
		tel.ReportBroken(report_upload, err, remotePath)
		return
	}
	state.uploaded[remotePath] = true
	state.stats.Uploaded++
	tel.ReportDebug("uploaded", remotePath)
}
