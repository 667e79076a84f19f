package fairsync

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"stemsync/internal/drive"
	"stemsync/internal/fairdata"
	"stemsync/internal/filesync"
	"stemsync/internal/portal"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func listCacheFile(kind portal.ListKind) string {
	return fmt.Sprintf("%sList.json", kind)
}

// ExportName is the filename of a list's spreadsheet export.
func ExportName(kind portal.ListKind) string {
	return fmt.Sprintf("%s list.xls", kind)
}

// ExportPath is where the spreadsheet export of a list is kept locally.
func (s *Syncer) ExportPath(kind portal.ListKind) string {
	return filepath.Join(s.Layout.FilesDir, s.Layout.Domain, ExportName(kind))
}

// Listing returns the rows of a list, from the cache when it is younger
// than `maxAge`.
func (s *Syncer) Listing(ctx context.Context, kind portal.ListKind, maxAge time.Duration) (fairdata.Listing, error) {
	return s.cachedListing(s.cachePath(listCacheFile(kind)), maxAge, func() (fairdata.Listing, bool, error) {
		listing, err := s.Portal.List(ctx, kind)
		return listing, true, err
	})
}

// SyncList refreshes a judge or volunteer list and its spreadsheet export,
// the export is uploaded next to the region's folders when uploads are on.
func (s *Syncer) SyncList(ctx context.Context, kind portal.ListKind, opts SyncOptions) (Report, error) {
	ctx, span := tracer.Start(ctx, "syncer:SyncList", trace.WithAttributes(
		attribute.String("kind", string(kind)),
	))
	defer span.End()

	var report Report
	start := time.Now()
	stage := fmt.Sprintf("%s list", kind)

	listing, err := s.Listing(ctx, kind, opts.MaxCacheAge)
	if err != nil {
		span.SetStatus(codes.Error, "listing")
		s.tel().ReportBroken(report_list, err, kind)
		return report, err
	}
	stats := filesync.Stats{Records: len(listing)}

	// the export only carries the columns enabled for the list
	if err := s.Portal.SetColumns(ctx, kind); err != nil {
		s.tel().ReportWarning(report_list, err, kind)
	}
	local := s.ExportPath(kind)
	if _, err := s.Portal.ExportList(ctx, kind, local); err != nil {
		span.SetStatus(codes.Error, "export")
		stats.Failed++
		report.add(stage, stats, start)
		return report, err
	}
	stats.Downloaded++

	if opts.Upload && s.Drive != nil {
		uploaded, err := s.uploadExport(ctx, kind, local)
		if err != nil {
			s.tel().ReportBroken(report_list, err, kind)
			stats.Failed++
		} else if uploaded {
			stats.Uploaded++
		}
	}
	report.add(stage, stats, start)
	return report, nil
}

func (s *Syncer) uploadExport(ctx context.Context, kind portal.ListKind, local string) (bool, error) {
	dir := drive.Clean(s.DriveRoot + "/" + s.Layout.Domain)
	remote := dir + "/" + ExportName(kind)

	node, exists, err := s.Drive.Find(ctx, remote)
	if err != nil {
		return false, err
	}
	info, err := s.fs().Stat(local)
	if err != nil {
		return false, err
	}
	if !filesync.NeedsUpload(info.ModTime(), node, exists) {
		return false, nil
	}
	if _, err := drive.EnsureFolder(ctx, s.Drive, dir); err != nil {
		return false, err
	}
	if _, err := s.Drive.CreateFile(ctx, local, remote); err != nil {
		return false, err
	}
	return true, nil
}
