package commands

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"stemsync/internal/fairsync"
	"stemsync/internal/portal"
	"stemsync/lib/serviceutil"

	"github.com/spf13/cobra"
)

var exportOut string

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Where to write the spreadsheet, defaults to \"<list> list.xls\".")
	downloadCmd.Flags().BoolVar(&downloadMilestone, "milestone", false, "The file was uploaded to a custom milestone.")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(downloadCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export <student|judge|volunteer|paymentStatus|milestone:<id>>",
	Short: "Downloads the spreadsheet export of a list.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		e := setup(ctx)
		defer e.close(ctx)
		e.login(ctx)

		if milestone, ok := strings.CutPrefix(args[0], "milestone:"); ok {
			id, err := strconv.Atoi(milestone)
			if err != nil {
				serviceutil.Fatal("invalid milestone id", err)
			}
			out := exportOut
			if out == "" {
				out = fmt.Sprintf("milestone %d.xls", id)
			}
			if err := e.session.ExportMilestoneReport(ctx, id, out); err != nil {
				serviceutil.Fatal("export failed", err)
			}
			slog.Info("exported milestone report", "path", out)
			return
		}

		kind, err := portal.ParseListKind(args[0])
		if err != nil {
			serviceutil.Fatal("unknown list", err)
		}
		out := exportOut
		if out == "" {
			out = fairsync.ExportName(kind)
		}
		suggested, err := e.session.ExportList(ctx, kind, out)
		if err != nil {
			serviceutil.Fatal("export failed", err)
		}
		slog.Info("exported list", "list", kind, "path", out, "portal_filename", suggested)
	},
}

var downloadMilestone bool

func isUrl(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}

var downloadCmd = &cobra.Command{
	Use:   "download <uploaded file name|url> <destination>",
	Short: "Downloads a single file from the portal.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		e := setup(ctx)
		defer e.close(ctx)
		e.login(ctx)

		source, dst := args[0], args[1]
		var err error
		switch {
		case isUrl(source):
			err = e.session.DownloadURL(ctx, source, dst)
		case downloadMilestone:
			err = e.session.DownloadMilestoneUpload(ctx, source, dst)
		default:
			err = e.session.DownloadUpload(ctx, source, dst)
		}
		if err != nil {
			serviceutil.Fatal("download failed", err)
		}
		slog.Info("downloaded", "path", dst)
	},
}
