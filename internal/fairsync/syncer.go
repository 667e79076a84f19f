// Package fairsync runs a full sync of a region: listings, file manifests,
// local files and their drive mirror.
package fairsync

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"stemsync/internal/drive"
	"stemsync/internal/fairdata"
	"stemsync/internal/filesync"
	"stemsync/internal/portal"
	"stemsync/lib/jsoncache"
	"stemsync/lib/telemetry"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("internal/fairsync")

const (
	report_project_info = "fairsync.project-info"
	report_forms_info   = "fairsync.forms-info"
	report_file_info    = "fairsync.file-info"
	report_team_patch   = "fairsync.team-patch"
	report_snapshot     = "fairsync.snapshot"
	report_folder_link  = "fairsync.folder-link"
	report_list         = "fairsync.list"
	report_not_cached   = "fairsync.not-cached"
	report_forms_failed = "fairsync.forms-failed-categories"
)

const (
	projectInfoFile = "projectInfo.json"
	formsInfoFile   = "formsInfo.json"
	studentDataFile = "studentData.json"
	fileInfoFile    = "fileInfo.json"
)

// forever is the max age of caches whose entries are refreshed by other
// means.
const forever = time.Duration(math.MaxInt64)

// Portal is the part of portal.Session a sync needs.
type Portal interface {
	Categories(ctx context.Context) (map[string]string, error)
	StudentData(ctx context.Context, categoryId string) (fairdata.Listing, error)
	StudentFileDetail(ctx context.Context, studentId, infoId string) (fairdata.Manifest, error)
	List(ctx context.Context, kind portal.ListKind) (fairdata.Listing, error)
	SetColumns(ctx context.Context, kind portal.ListKind) error
	ExportList(ctx context.Context, kind portal.ListKind, dst string) (string, error)
}

type Row struct {
	Stage   string
	Stats   filesync.Stats
	Elapsed time.Duration
}

type Report []Row

func (r *Report) add(stage string, stats filesync.Stats, start time.Time) {
	*r = append(*r, Row{Stage: stage, Stats: stats, Elapsed: time.Since(start)})
}

type SyncOptions struct {
	// Files fetches file manifests and syncs the files themselves.
	Files           bool
	Download        bool
	Upload          bool
	ForceFileDetail bool
	MaxCacheAge     time.Duration
}

type Syncer struct {
	Portal Portal
	// Fs holds the local files, the OS filesystem when nil.
	Fs    afero.Fs
	Cache jsoncache.Store
	// CacheDir holds the caches of a single region.
	CacheDir string
	Engine   *filesync.Engine
	// Drive is nil when the drive mirror is disabled.
	Drive     drive.Drive
	DriveRoot string
	Layout    filesync.Layout
	// Categories overrides the categories listed by the portal.
	Categories map[string]string
	// Location is the zone of the portal's timestamps, UTC when nil.
	Location *time.Location
	Tel      telemetry.API
	// Progress is called as records are processed in a stage.
	Progress func(stage string, done, total int)
}

func (s *Syncer) tel() telemetry.API {
	if s.Tel == nil {
		return telemetry.Discard{}
	}
	return s.Tel
}

func (s *Syncer) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s *Syncer) fs() afero.Fs {
	if s.Fs == nil {
		return afero.NewOsFs()
	}
	return s.Fs
}

func (s *Syncer) progress(stage string, done, total int) {
	if s.Progress != nil {
		s.Progress(stage, done, total)
	}
}

func (s *Syncer) cachePath(name string) string {
	return filepath.Join(s.CacheDir, name)
}

// cachedListing serves `path` while it is younger than `maxAge`, else it
// calls `fetch`. Listings that are empty or that `fetch` reports as partial
// are returned but never cached, so the next run asks the portal again.
func (s *Syncer) cachedListing(path string, maxAge time.Duration, fetch func() (fairdata.Listing, bool, error)) (fairdata.Listing, error) {
	var listing fairdata.Listing
	if s.Cache.ReadInto(path, maxAge, &listing) && len(listing) > 0 {
		return listing, nil
	}
	listing, complete, err := fetch()
	if err != nil {
		return nil, err
	}
	if !complete || len(listing) == 0 {
		s.tel().ReportWarning(report_not_cached, filepath.Base(path), len(listing))
		return listing, nil
	}
	if err := s.Cache.Write(path, listing); err != nil {
		s.tel().ReportWarning(report_list, err, path)
	}
	return listing, nil
}

func (s *Syncer) categories(ctx context.Context) (map[string]string, error) {
	if len(s.Categories) > 0 {
		return s.Categories, nil
	}
	return s.Portal.Categories(ctx)
}

// Students returns every participant, the project listing is the base and
// the per category forms data is laid on top of it.
func (s *Syncer) Students(ctx context.Context, maxAge time.Duration) (fairdata.Records, error) {
	ctx, span := tracer.Start(ctx, "syncer:Students")
	defer span.End()

	projects, err := s.cachedListing(s.cachePath(projectInfoFile), maxAge, func() (fairdata.Listing, bool, error) {
		listing, err := s.Portal.List(ctx, portal.ListStudent)
		return listing, true, err
	})
	if err != nil {
		span.SetStatus(codes.Error, "project listing")
		s.tel().ReportBroken(report_project_info, err)
		return nil, err
	}

	forms, err := s.cachedListing(s.cachePath(formsInfoFile), maxAge, func() (fairdata.Listing, bool, error) {
		categories, err := s.categories(ctx)
		if err != nil {
			return nil, false, err
		}
		ids := make([]string, 0, len(categories))
		for id := range categories {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		out := fairdata.Listing{}
		failed := 0
		for i, id := range ids {
			s.progress("categories", i+1, len(ids))
			listing, err := s.Portal.StudentData(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return nil, false, ctx.Err()
				}
				failed++
				s.tel().ReportBroken(report_forms_info, err, "/filesAndForms/getStudentData", id, categories[id])
				continue
			}
			s.tel().ReportDebug("got student data", categories[id], len(listing))
			for recordId, fields := range listing {
				out[recordId] = fields
			}
		}
		s.tel().ReportCount(report_forms_failed, int64(failed))
		return out, failed == 0, nil
	})
	if err != nil {
		span.SetStatus(codes.Error, "forms listing")
		s.tel().ReportBroken(report_forms_info, err)
		return nil, err
	}

	records := fairdata.MergeAll(toRecords(projects), toRecords(forms))
	span.SetAttributes(attribute.Int("records", len(records)))
	s.writeRecords(records)
	return records, nil
}

func toRecords(listing fairdata.Listing) fairdata.Records {
	out := make(fairdata.Records, len(listing))
	for id, fields := range listing {
		out[id] = fairdata.RecordFromFields(id, fields)
	}
	return out
}

func (s *Syncer) writeRecords(records fairdata.Records) {
	if err := s.Cache.Write(s.cachePath(studentDataFile), records); err != nil {
		s.tel().ReportWarning(report_snapshot, err, studentDataFile)
	}
}

func sortedIds(records fairdata.Records) []string {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func needsDetail(r *fairdata.StudentRecord, force bool) bool {
	return force || r.CompletionStatus != fairdata.CompletionComplete || len(r.Files) == 0
}

// FileInfo fills in the file manifest of every record. Manifests are
// fetched again for records that are not complete, have no manifest or
// when `force` is set. Downloaded counts the fetched manifests.
func (s *Syncer) FileInfo(ctx context.Context, records fairdata.Records, force bool) (filesync.Stats, error) {
	ctx, span := tracer.Start(ctx, "syncer:FileInfo", trace.WithAttributes(
		attribute.Bool("force", force),
	))
	defer span.End()

	cached := map[string]fairdata.Manifest{}
	s.Cache.ReadInto(s.cachePath(fileInfoFile), forever, &cached)
	for _, manifest := range cached {
		manifest.Localize(s.location())
	}

	stats := filesync.Stats{}
	ids := sortedIds(records)
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		r := records[id]
		stats.Records++
		if len(r.Files) == 0 && len(cached[id]) > 0 {
			r.Files = cached[id]
		}
		if !needsDetail(r, force) {
			stats.RecordsSkipped++
			s.progress("file info", i+1, len(ids))
			continue
		}

		manifest, err := s.Portal.StudentFileDetail(ctx, id, r.StudentInfoId)
		if err != nil {
			stats.Failed++
			s.tel().ReportBroken(report_file_info, err, id)
			s.progress("file info", i+1, len(ids))
			continue
		}
		r.Files = mergeManifest(r.Files, manifest)
		stats.Downloaded++
		s.progress("file info", i+1, len(ids))
	}

	out := make(map[string]fairdata.Manifest, len(records))
	for id, r := range records {
		out[id] = r.Files
	}
	if err := s.Cache.Write(s.cachePath(fileInfoFile), out); err != nil {
		s.tel().ReportWarning(report_file_info, err)
	}
	return stats, nil
}

func keepLocal(prev, entry *fairdata.FileManifestEntry) {
	if prev == nil {
		return
	}
	entry.LocalFilename = prev.LocalFilename
	entry.LocalPath = prev.LocalPath
	entry.LocalMtime = prev.LocalMtime
}

// mergeManifest takes the fresh manifest but keeps what is known about the
// local copies.
func mergeManifest(old, fresh fairdata.Manifest) fairdata.Manifest {
	for docType, entry := range fresh {
		if entry != nil {
			keepLocal(old[docType], entry)
		}
	}
	return fresh
}

// PatchTeamFiles works around the portal rendering the same download link
// for every member of a team. When teammates have identical references for
// a document type their manifests are fetched again one person at a time.
// It returns the number of entries that changed.
//
// TODO: drop once the portal renders per person links on the team view.
func (s *Syncer) PatchTeamFiles(ctx context.Context, records fairdata.Records) (int, error) {
	ctx, span := tracer.Start(ctx, "syncer:PatchTeamFiles")
	defer span.End()

	teams := map[string][]*fairdata.StudentRecord{}
	for _, id := range sortedIds(records) {
		r := records[id]
		if project, ok := r.Project(); ok {
			teams[project.String()] = append(teams[project.String()], r)
		}
	}

	refetched := map[string]fairdata.Manifest{}
	patched := 0
	for project, members := range teams {
		if len(members) < 2 {
			continue
		}
		for _, docType := range sharedDocuments(members) {
			for _, member := range members {
				if err := ctx.Err(); err != nil {
					return patched, err
				}
				manifest, ok := refetched[member.Id]
				if !ok {
					fresh, err := s.Portal.StudentFileDetail(ctx, member.Id, member.StudentInfoId)
					if err != nil {
						s.tel().ReportBroken(report_team_patch, err, project, member.Id)
						refetched[member.Id] = nil
						continue
					}
					refetched[member.Id] = fresh
					manifest = fresh
				}
				entry := manifest[docType]
				current := member.Files[docType]
				if entry == nil || current == nil || entry.RemoteReference() == current.RemoteReference() {
					continue
				}
				s.tel().ReportDebug("patched team file", project, member.Id, docType)
				keepLocal(current, entry)
				member.Files[docType] = entry
				patched++
			}
		}
	}
	return patched, nil
}

// sharedDocuments returns the document types every member of a team has
// the exact same non empty reference for.
func sharedDocuments(members []*fairdata.StudentRecord) []string {
	var shared []string
	for docType, first := range members[0].Files {
		if first == nil || first.NeverProvided() || first.RemoteReference() == "" {
			continue
		}
		same := true
		for _, other := range members[1:] {
			entry := other.Files[docType]
			if entry == nil || entry.RemoteReference() != first.RemoteReference() {
				same = false
				break
			}
		}
		if same {
			shared = append(shared, docType)
		}
	}
	sort.Strings(shared)
	return shared
}

// SnapshotName is the filename of a record's snapshot, "Smith,Jane.json".
func SnapshotName(r *fairdata.StudentRecord) string {
	name := fmt.Sprintf("%s,%s", r.LastName, r.FirstName)
	name = strings.ReplaceAll(name, "\n", ",")
	name = strings.Join(strings.Fields(name), "")
	name = strings.ReplaceAll(name, "/", "-")
	return name + ".json"
}

// WriteRecordSnapshots writes every record as JSON into its local folder.
func (s *Syncer) WriteRecordSnapshots(records fairdata.Records) int {
	written := 0
	for _, id := range sortedIds(records) {
		r := records[id]
		p := filepath.Join(s.Layout.LocalDir(r), SnapshotName(r))
		if err := s.Cache.Write(p, r); err != nil {
			s.tel().ReportWarning(report_snapshot, err, id)
			continue
		}
		written++
	}
	return written
}

// FolderLinks creates the "by student" shortcuts to every record folder in
// the drive, and "by internal id" ones for records stored by project.
// Records whose folder was never uploaded are skipped.
func (s *Syncer) FolderLinks(ctx context.Context, records fairdata.Records) (int, error) {
	if s.Drive == nil {
		return 0, nil
	}
	ctx, span := tracer.Start(ctx, "syncer:FolderLinks")
	defer span.End()

	domainDir := drive.Clean(s.DriveRoot + "/" + s.Layout.Domain)
	byStudent := domainDir + "/" + filesync.ByStudentDir
	byId := domainDir + "/" + filesync.ByInternalIdDir

	created := 0
	ensured := map[string]bool{}
	link := func(target, container, title string) error {
		if !ensured[container] {
			if _, err := drive.EnsureFolder(ctx, s.Drive, container); err != nil {
				return err
			}
			ensured[container] = true
		}
		_, err := s.Drive.CreateShortcut(ctx, target, container, title)
		return err
	}

	for _, id := range sortedIds(records) {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		r := records[id]
		target := s.Layout.RemoteDir(s.DriveRoot, r)
		_, exists, err := s.Drive.Find(ctx, target)
		if err != nil {
			span.SetStatus(codes.Error, "find")
			s.tel().ReportBroken(report_folder_link, err, target)
			return created, err
		}
		if !exists {
			s.tel().ReportDebug("no remote folder to link", id)
			continue
		}

		if err := link(target, byStudent, r.FullName()); err != nil {
			s.tel().ReportBroken(report_folder_link, err, id)
			continue
		}
		created++
		if _, ok := r.Project(); ok {
			if err := link(target, byId, r.Id); err != nil {
				s.tel().ReportBroken(report_folder_link, err, id)
				continue
			}
			created++
		}
	}
	return created, nil
}

// SyncStudents runs the student stages of a sync.
func (s *Syncer) SyncStudents(ctx context.Context, opts SyncOptions) (Report, error) {
	ctx, span := tracer.Start(ctx, "syncer:SyncStudents")
	defer span.End()

	var report Report
	start := time.Now()
	records, err := s.Students(ctx, opts.MaxCacheAge)
	if err != nil {
		return report, err
	}
	report.add("students", filesync.Stats{Records: len(records)}, start)
	if !opts.Files {
		return report, nil
	}

	start = time.Now()
	stats, err := s.FileInfo(ctx, records, opts.ForceFileDetail)
	report.add("file info", stats, start)
	if err != nil {
		return report, err
	}

	start = time.Now()
	patched, err := s.PatchTeamFiles(ctx, records)
	report.add("team files", filesync.Stats{Downloaded: patched}, start)
	if err != nil {
		return report, err
	}

	if s.Engine != nil {
		start = time.Now()
		s.Engine.Download = opts.Download
		s.Engine.Upload = opts.Upload && s.Drive != nil
		total := len(records)
		done := 0
		s.Engine.OnRecord = func(string) {
			done++
			s.progress("files", done, total)
		}
		stats, err := s.Engine.Sync(ctx, records)
		report.add("files", stats, start)
		if err != nil {
			return report, err
		}
	}

	start = time.Now()
	written := s.WriteRecordSnapshots(records)
	s.writeRecords(records)
	report.add("snapshots", filesync.Stats{Records: written}, start)

	if opts.Upload && s.Drive != nil {
		start = time.Now()
		links, err := s.FolderLinks(ctx, records)
		report.add("folder links", filesync.Stats{Uploaded: links}, start)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}
