package commands

import (
	"log/slog"
	"time"

	"stemsync/internal/fairsync"
	"stemsync/internal/portal"
	"stemsync/lib/serviceutil"

	"github.com/spf13/cobra"
)

var syncFlags struct {
	student         bool
	judge           bool
	volunteer       bool
	files           bool
	download        bool
	upload          bool
	forceFileDetail bool
	maxCacheAge     time.Duration
	quiet           bool
}

func init() {
	flags := syncCmd.Flags()
	flags.BoolVar(&syncFlags.student, "student", false, "Sync participants, the default when no list is given.")
	flags.BoolVar(&syncFlags.judge, "judge", false, "Sync the judge list.")
	flags.BoolVar(&syncFlags.volunteer, "volunteer", false, "Sync the volunteer list.")
	flags.BoolVar(&syncFlags.files, "files", false, "Fetch file manifests and sync participant files.")
	flags.BoolVar(&syncFlags.download, "download", true, "Download files that changed on the portal.")
	flags.BoolVar(&syncFlags.upload, "upload", false, "Mirror local files to the configured drive.")
	flags.BoolVar(&syncFlags.forceFileDetail, "force-file-detail", false, "Fetch the file manifest of every participant, complete or not.")
	flags.DurationVar(&syncFlags.maxCacheAge, "max-cache-age", 10*time.Minute, "Use cached listings younger than this.")
	flags.BoolVarP(&syncFlags.quiet, "quiet", "q", false, "Do not render progress bars.")
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync [--student] [--judge] [--volunteer] [--files] [--upload]",
	Short: "Syncs participants, lists and files of the configured region.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		e := setup(ctx)
		defer e.close(ctx)
		e.login(ctx)

		d := e.drive(ctx)
		if syncFlags.upload && d == nil {
			slog.Warn("no drive is configured, files will not be uploaded")
		}
		syncer := e.syncer(d)
		stopBars := func() {}
		if !syncFlags.quiet {
			bars := newStageProgress()
			syncer.Progress = bars.update
			stopBars = bars.stop
		}

		opts := fairsync.SyncOptions{
			Files:           syncFlags.files,
			Download:        syncFlags.download,
			Upload:          syncFlags.upload,
			ForceFileDetail: syncFlags.forceFileDetail,
			MaxCacheAge:     syncFlags.maxCacheAge,
		}
		students := syncFlags.student || (!syncFlags.judge && !syncFlags.volunteer)

		var report fairsync.Report
		if students {
			rows, err := syncer.SyncStudents(ctx, opts)
			report = append(report, rows...)
			if err != nil {
				stopBars()
				renderReport(report)
				serviceutil.Fatal("student sync failed", err)
			}
		}
		lists := []struct {
			kind    portal.ListKind
			enabled bool
		}{
			{portal.ListJudge, syncFlags.judge},
			{portal.ListVolunteer, syncFlags.volunteer},
		}
		for _, list := range lists {
			if !list.enabled {
				continue
			}
			rows, err := syncer.SyncList(ctx, list.kind, opts)
			report = append(report, rows...)
			if err != nil {
				slog.Error("list sync failed", "list", list.kind, "err", err)
			}
		}
		stopBars()
		renderReport(report)
	},
}
