package fairsync

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stemsync/internal/drive"
	"stemsync/internal/extract"
	"stemsync/internal/fairdata"
	"stemsync/internal/filesync"
	"stemsync/internal/portal"
	"stemsync/lib/jsoncache"
	"stemsync/lib/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var updatedOn = &fairdata.Stamp{Time: time.Date(2023, 3, 14, 10, 21, 0, 0, time.UTC)}

type fakePortal struct {
	fs       afero.Fs
	projects fairdata.Listing
	forms    map[string]fairdata.Listing
	// failing holds the error returned for a category's student data.
	failing map[string]error
	lists    map[portal.ListKind]fairdata.Listing
	// detail builds the manifest returned by the n-th (from 1) detail call
	// of a record.
	detail func(id string, call int) fairdata.Manifest

	mutex sync.Mutex
	calls map[string]int
}

func (f *fakePortal) count(key string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[key]++
	return f.calls[key]
}

func (f *fakePortal) called(key string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls[key]
}

func (f *fakePortal) Categories(ctx context.Context) (map[string]string, error) {
	f.count("categories")
	categories := map[string]string{}
	for id := range f.forms {
		categories[id] = "category " + id
	}
	return categories, nil
}

func (f *fakePortal) StudentData(ctx context.Context, categoryId string) (fairdata.Listing, error) {
	f.count("student-data/" + categoryId)
	if err := f.failing[categoryId]; err != nil {
		return nil, err
	}
	return f.forms[categoryId], nil
}

func (f *fakePortal) StudentFileDetail(ctx context.Context, studentId, infoId string) (fairdata.Manifest, error) {
	call := f.count("detail/" + studentId)
	if f.detail == nil {
		return fairdata.Manifest{}, nil
	}
	return f.detail(studentId, call), nil
}

func (f *fakePortal) List(ctx context.Context, kind portal.ListKind) (fairdata.Listing, error) {
	f.count("list/" + string(kind))
	if kind == portal.ListStudent {
		return f.projects, nil
	}
	return f.lists[kind], nil
}

func (f *fakePortal) SetColumns(ctx context.Context, kind portal.ListKind) error {
	f.count("columns/" + string(kind))
	return nil
}

func (f *fakePortal) write(dst, contents string) error {
	if err := f.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return afero.WriteFile(f.fs, dst, []byte(contents), 0644)
}

func (f *fakePortal) ExportList(ctx context.Context, kind portal.ListKind, dst string) (string, error) {
	f.count("export/" + string(kind))
	return fmt.Sprintf("%s_list.xls", kind), f.write(dst, "spreadsheet")
}

func (f *fakePortal) DownloadUpload(ctx context.Context, uploadedName, dst string) error {
	f.count("download/" + uploadedName)
	return f.write(dst, "contents of "+uploadedName)
}

func (f *fakePortal) DownloadURL(ctx context.Context, url, dst string) error {
	f.count("download/" + url)
	return f.write(dst, "contents of "+url)
}

func planEntry(uploaded string) *fairdata.FileManifestEntry {
	return &fairdata.FileManifestEntry{
		DocumentType:     "Research Plan",
		FileName:         "research plan.docx",
		UploadedFileName: uploaded,
		Status:           fairdata.StatusApproved,
		UpdatedOn:        updatedOn,
	}
}

func newPortal() *fakePortal {
	return &fakePortal{
		fs: afero.NewOsFs(),
		projects: fairdata.Listing{
			"1001": {"f_name": "Jane", "l_name": "Smith", "project_no": "SR-BIO-012", "stud_com_status": "Complete"},
			"1002": {"f_name": "Raj", "l_name": "Patel", "project_no": "SR-BIO-012", "stud_com_status": "Incomplete"},
		},
		forms: map[string]fairdata.Listing{
			"12": {"1001": {"student_info_id": "5501", "teacherfullname": "Mr. Brown"}},
			"13": {"1002": {"student_info_id": "5502"}, "1003": {"f_name": "Ana", "l_name": "Lee"}},
		},
		detail: func(id string, call int) fairdata.Manifest {
			switch id {
			case "1001":
				return fairdata.Manifest{"Research Plan": planEntry("a1.docx")}
			case "1002":
				return fairdata.Manifest{"Research Plan": planEntry("b2.docx")}
			}
			return fairdata.Manifest{}
		},
	}
}

type fixture struct {
	dir    string
	portal *fakePortal
	drive  drive.LocalDrive
	syncer *Syncer
}

func newFixture(t testing.TB) fixture {
	dir := t.TempDir()
	p := newPortal()
	layout := filesync.Layout{
		FilesDir: filepath.Join(dir, "files"),
		Domain:   "ncsef",
		Rules:    extract.DefaultRules([]string{"NCSEF"}),
	}
	d := drive.NewLocalDrive(afero.NewMemMapFs(), "/drive", p.fs)
	return fixture{
		dir:    dir,
		portal: p,
		drive:  d,
		syncer: &Syncer{
			Portal:   p,
			Fs:       p.fs,
			Cache:    jsoncache.NewStore(telemetry.Discard{}, nil),
			CacheDir: filepath.Join(dir, "caches", "ncsef"),
			Engine: &filesync.Engine{
				Fs:         p.fs,
				Layout:     layout,
				Downloader: p,
				Drive:      d,
				DriveRoot:  "/Automation",
			},
			Drive:     d,
			DriveRoot: "/Automation",
			Layout:    layout,
		},
	}
}

func TestStudentsMergesAndCaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	records, err := f.syncer.Students(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, records, 3)

	got := map[string][]string{}
	for id, r := range records {
		got[id] = []string{r.FullName(), r.ProjectNo, r.StudentInfoId, r.Teacher}
	}
	expect := map[string][]string{
		"1001": {"Smith, Jane", "SR-BIO-012", "5501", "Mr. Brown"},
		"1002": {"Patel, Raj", "SR-BIO-012", "5502", ""},
		"1003": {"Lee, Ana", "", "", ""},
	}
	if diff := cmp.Diff(expect, got); diff != "" {
		t.Fatalf("records (-want +got):\n%s", diff)
	}

	for _, name := range []string{projectInfoFile, formsInfoFile, studentDataFile} {
		_, ok := f.syncer.Cache.Age(filepath.Join(f.syncer.CacheDir, name))
		require.True(t, ok, name)
	}

	_, err = f.syncer.Students(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, f.portal.called("list/student"))
	require.Equal(t, 1, f.portal.called("categories"))

	// category overrides skip the portal's listing
	f.syncer.Categories = map[string]string{"12": "Biology"}
	_, err = f.syncer.Students(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, f.portal.called("categories"))
	require.Equal(t, 2, f.portal.called("student-data/12"))
	require.Equal(t, 1, f.portal.called("student-data/13"))
}

func TestStudentsSkipsFailingCategory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := &telemetry.Recorder{}
	f.syncer.Tel = rec
	f.portal.failing = map[string]error{
		"12": &extract.StructureError{Page: "student data", Element: "table"},
	}

	records, err := f.syncer.Students(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "5502", records["1002"].StudentInfoId)
	require.Equal(t, "", records["1001"].StudentInfoId)

	broken := rec.Find(telemetry.LevelBroken, report_forms_info)
	require.Len(t, broken, 1)
	require.Equal(t, []any{"/filesAndForms/getStudentData", "12", "category 12"}, broken[0].Params[1:])

	_, ok := f.syncer.Cache.Age(f.syncer.cachePath(formsInfoFile))
	require.False(t, ok)
	_, ok = f.syncer.Cache.Age(f.syncer.cachePath(projectInfoFile))
	require.True(t, ok)

	// the partial forms listing is fetched again
	f.portal.failing = nil
	records, err = f.syncer.Students(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, "5501", records["1001"].StudentInfoId)
	require.Equal(t, 2, f.portal.called("student-data/13"))
	_, ok = f.syncer.Cache.Age(f.syncer.cachePath(formsInfoFile))
	require.True(t, ok)
}

func TestStudentsDoesNotCacheEmptyListing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := &telemetry.Recorder{}
	f.syncer.Tel = rec
	f.portal.projects = fairdata.Listing{}

	for i := 0; i < 2; i++ {
		_, err := f.syncer.Students(ctx, time.Hour)
		require.NoError(t, err)
	}
	require.Equal(t, 2, f.portal.called("list/student"))
	_, ok := f.syncer.Cache.Age(f.syncer.cachePath(projectInfoFile))
	require.False(t, ok)

	warnings := rec.Find(telemetry.LevelWarning, report_not_cached)
	require.Len(t, warnings, 2)
	require.Equal(t, []any{projectInfoFile, 0}, warnings[0].Params)
}

func TestFileInfo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	records, err := f.syncer.Students(ctx, time.Hour)
	require.NoError(t, err)
	stats, err := f.syncer.FileInfo(ctx, records, false)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Downloaded)
	require.Equal(t, "a1.docx", records["1001"].Files["Research Plan"].UploadedFileName)

	// complete records are served from the cache
	records, err = f.syncer.Students(ctx, time.Hour)
	require.NoError(t, err)
	stats, err = f.syncer.FileInfo(ctx, records, false)
	require.NoError(t, err)
	require.Equal(t, 1, stats.RecordsSkipped)
	require.Equal(t, 1, f.portal.called("detail/1001"))
	require.Equal(t, 2, f.portal.called("detail/1002"))
	require.Equal(t, "a1.docx", records["1001"].Files["Research Plan"].UploadedFileName)

	_, err = f.syncer.FileInfo(ctx, records, true)
	require.NoError(t, err)
	require.Equal(t, 2, f.portal.called("detail/1001"))
}

func TestPatchTeamFiles(t *testing.T) {
	f := newFixture(t)
	f.portal.detail = func(id string, call int) fairdata.Manifest {
		return fairdata.Manifest{"Research Plan": planEntry("plan-" + id + ".docx")}
	}

	shared := func() *fairdata.FileManifestEntry {
		e := planEntry("team.docx")
		e.LocalPath = "files/ncsef/plan.docx"
		return e
	}
	abstract := func(uploaded string) *fairdata.FileManifestEntry {
		return &fairdata.FileManifestEntry{DocumentType: "Abstract", FileName: "abstract.pdf", UploadedFileName: uploaded, Status: fairdata.StatusApproved}
	}
	records := fairdata.Records{
		"1001": {Id: "1001", ProjectNo: "SR-BIO-012", Files: fairdata.Manifest{"Research Plan": shared(), "Abstract": abstract("x.pdf")}},
		"1002": {Id: "1002", ProjectNo: "SR-BIO-012", Files: fairdata.Manifest{"Research Plan": shared(), "Abstract": abstract("y.pdf")}},
		"2001": {Id: "2001", ProjectNo: "JR-CHEM-003", Files: fairdata.Manifest{"Research Plan": shared()}},
	}

	patched, err := f.syncer.PatchTeamFiles(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, 2, patched)
	require.Equal(t, "plan-1001.docx", records["1001"].Files["Research Plan"].UploadedFileName)
	require.Equal(t, "plan-1002.docx", records["1002"].Files["Research Plan"].UploadedFileName)
	require.Equal(t, "files/ncsef/plan.docx", records["1001"].Files["Research Plan"].LocalPath)
	require.Equal(t, "x.pdf", records["1001"].Files["Abstract"].UploadedFileName)
	require.Equal(t, "team.docx", records["2001"].Files["Research Plan"].UploadedFileName)
	require.Zero(t, f.portal.called("detail/2001"))
}

func TestSnapshotName(t *testing.T) {
	require.Equal(t, "Smith,Jane.json", SnapshotName(&fairdata.StudentRecord{FirstName: "Jane", LastName: "Smith"}))
	require.Equal(t, "VanDerBerg,Mary,Ann.json", SnapshotName(&fairdata.StudentRecord{FirstName: "Mary\nAnn ", LastName: "Van Der Berg"}))
}

func TestSyncStudents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	report, err := f.syncer.SyncStudents(ctx, SyncOptions{
		Files:       true,
		Download:    true,
		Upload:      true,
		MaxCacheAge: time.Hour,
	})
	require.NoError(t, err)

	stages := map[string]filesync.Stats{}
	var names []string
	for _, row := range report {
		names = append(names, row.Stage)
		stages[row.Stage] = row.Stats
	}
	require.Equal(t, []string{"students", "file info", "team files", "files", "snapshots", "folder links"}, names)
	require.Equal(t, 2, stages["files"].Downloaded)
	require.Equal(t, 2, stages["files"].Uploaded)
	require.Equal(t, 3, stages["snapshots"].Records)
	require.Equal(t, 4, stages["folder links"].Uploaded)

	project := filepath.Join(f.dir, "files", "ncsef", "by category", "SR", "BIO", "SR-BIO-012")
	contents, err := afero.ReadFile(f.portal.fs, filepath.Join(project, "Research Plan - Smith, Jane.docx"))
	require.NoError(t, err)
	require.Equal(t, "contents of a1.docx", string(contents))
	exists, err := afero.Exists(f.portal.fs, filepath.Join(project, "Smith,Jane.json"))
	require.NoError(t, err)
	require.True(t, exists)

	for _, p := range []string{
		"/Automation/ncsef/by category/SR/BIO/SR-BIO-012/Research Plan - Patel, Raj.docx",
		"/Automation/ncsef/by student/Smith, Jane",
		"/Automation/ncsef/by internal id/1002",
	} {
		_, ok, err := f.drive.Find(ctx, p)
		require.NoError(t, err)
		require.True(t, ok, p)
	}
	// never uploaded, no folder to link to
	_, ok, err := f.drive.Find(ctx, "/Automation/ncsef/by student/Lee, Ana")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSyncStudentsWithoutFiles(t *testing.T) {
	f := newFixture(t)
	report, err := f.syncer.SyncStudents(context.Background(), SyncOptions{MaxCacheAge: time.Hour})
	require.NoError(t, err)
	require.Len(t, report, 1)
	require.Equal(t, 3, report[0].Stats.Records)
	require.Zero(t, f.portal.called("detail/1001"))
}

func TestSyncList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.portal.lists = map[portal.ListKind]fairdata.Listing{
		portal.ListJudge: {
			"77": {"judge_name": "Dr. Rivera"},
			"78": {"judge_name": "Ms. Chen"},
		},
	}

	report, err := f.syncer.SyncList(ctx, portal.ListJudge, SyncOptions{Upload: true, MaxCacheAge: time.Hour})
	require.NoError(t, err)
	require.Len(t, report, 1)
	require.Equal(t, "judge list", report[0].Stage)
	require.Equal(t, filesync.Stats{Records: 2, Downloaded: 1, Uploaded: 1}, report[0].Stats)
	require.Equal(t, 1, f.portal.called("columns/judge"))

	_, ok := f.syncer.Cache.Age(filepath.Join(f.syncer.CacheDir, "judgeList.json"))
	require.True(t, ok)
	_, ok, err = f.drive.Find(ctx, "/Automation/ncsef/judge list.xls")
	require.NoError(t, err)
	require.True(t, ok)

	listing, err := f.syncer.Listing(ctx, portal.ListJudge, time.Hour)
	require.NoError(t, err)
	require.Len(t, listing, 2)
	require.Equal(t, 1, f.portal.called("list/judge"))
}
