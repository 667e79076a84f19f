package portal

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// UploadsRoot is where the portal stores uploaded project files.
	UploadsRoot = "/EBS-Stem/stemwizard/webroot/stemwizard/public/assets/uploads/project_files"
	// MilestoneUploadsRoot is where the portal stores custom milestone uploads.
	MilestoneUploadsRoot = "/EBS-Stem/stemwizard/webroot/stemwizard/public/assets/images/milestone_uploads"
)

type exportSpec struct {
	endpoint string
	fields   map[string]string
}

var exportSpecs = map[ListKind]exportSpec{
	ListStudent: {
		endpoint: "/fairadmin/export_file",
		fields: map[string]string{
			"category_select1":           "",
			"round2_category_select1":    "",
			"child_fair_select1":         "",
			"status_select1":             "",
			"division1":                  "0",
			"classperiod_select1":        "",
			"student_completion_status1": "",
			"student_checkin_status1":    "",
			"student_activation_status1": "",
			"management_user_type_id1":   " 1",
			"checked_fields":             "",
			"class_id1":                  "",
			"admin_status1":              "",
			"final_status1":              "",
			"files_approval_status1":     "",
			"project_status1":            "",
			"project_score":              "",
			"last_year":                  "",
		},
	},
	ListJudge: {
		endpoint: "/fairadmin/export_file_judge",
		fields: map[string]string{
			"category_select1":                "",
			"judge_types1":                    "",
			"status_select1":                  "",
			"final_assigned_category_select1": "",
			"division_judge1":                 "0",
			"assigned_division1":              "0",
			"special_awards_judge1":           "",
			"assigned_lead_judge1":            "",
			"judge_checkin_status1":           "",
			"judge_activation_status1":        "",
			"checked_fields_header":           "",
			"checked_fields":                  "",
			"class_id1":                       "",
			"last_year":                       "",
			"dashBoardPage1":                  "",
		},
	},
	ListVolunteer: {
		endpoint: "/fairadmin/exportVolunteerExcelPdf",
		fields: map[string]string{
			"searchhere1":          "",
			"registration_status1": "",
			"last_year":            "",
		},
	},
	ListPaymentStatus: {
		endpoint: "/fairadmin/paymentStatus",
		fields: map[string]string{
			"management_user_type_id1":   "8",
			"student_checkin_status1":    "",
			"admin_status1":              "",
			"payment_type1":              "",
			"division1":                  "0",
			"number_page":                "",
			"page1":                      "",
			"child_fair_select1":         "",
			"origin_fair_select1":        "",
			"teacher_id1":                "",
			"student_completion_status1": "",
			"final_status1":              "",
			"files_approval_status1":     "",
			"project_status1":            "",
			"checked_fields":             "",
		},
	},
}

func (s *Session) requireToken() error {
	if s.token() == "" {
		return &ConfigurationError{Field: "session", Reason: "not initialized, no login token"}
	}
	return nil
}

// ExportList downloads the spreadsheet export of a list into `dst` and
// returns the filename the portal suggested for it.
func (s *Session) ExportList(ctx context.Context, kind ListKind, dst string) (string, error) {
	ctx, span := tracer.Start(ctx, "session:ExportList", trace.WithAttributes(
		attribute.String("kind", string(kind)),
	))
	defer span.End()

	spec, ok := exportSpecs[kind]
	if !ok {
		return "", &ConfigurationError{Field: "list", Reason: fmt.Sprintf("%q cannot be exported", kind)}
	}
	if err := s.requireToken(); err != nil {
		return "", err
	}

	form := map[string]string{
		"_token":      s.token(),
		"filetype":    "xls",
		"orderby1":    "",
		"sortby1":     "",
		"searchhere1": "",
	}
	for k, v := range spec.fields {
		form[k] = v
	}

	header, err := s.stream(ctx, requestOptions{endpoint: spec.endpoint}, form, dst)
	if err != nil {
		span.SetStatus(codes.Error, "export failed")
		s.tel.ReportBroken(report_export, err, kind)
		return "", err
	}
	filename := suggestedFilename(header.Get("Content-Disposition"))
	s.tel.ReportDebug("received export", kind, filename)
	return filename, nil
}

// ExportMilestoneReport downloads the spreadsheet report of a custom
// milestone into `dst`.
func (s *Session) ExportMilestoneReport(ctx context.Context, milestoneId int, dst string) error {
	ctx, span := tracer.Start(ctx, "session:ExportMilestoneReport")
	defer span.End()

	if err := s.requireToken(); err != nil {
		return err
	}
	_, err := s.stream(ctx, requestOptions{endpoint: "/fairadmin/exportmilestonereport"}, map[string]string{
		"_token":        s.token(),
		"filetype":      "excel",
		"st_stmile_id1": strconv.Itoa(milestoneId),
	}, dst)
	if err != nil {
		span.SetStatus(codes.Error, "export failed")
		s.tel.ReportBroken(report_export, err, "milestone", milestoneId)
	}
	return err
}

func (s *Session) download(ctx context.Context, root, uploadedName, referer, dst string) error {
	if uploadedName == "" {
		return &ProtocolError{Page: "file detail", Missing: "uploaded file name"}
	}
	if err := s.requireToken(); err != nil {
		return err
	}
	// a stale token turns downloads into an html error page
	s.InvalidateCsrf(csrfPage)
	opts, err := s.ajaxOptions(ctx, "/fairadmin/fileDownload", csrfPage)
	if err != nil {
		return err
	}
	if referer != "" {
		opts.referer = referer
	}
	_, err = s.stream(ctx, opts, map[string]string{
		"_token":              s.token(),
		"download_filen_path": root,
		"download_hideData":   uploadedName,
	}, dst)
	return err
}

// DownloadUpload downloads a project file the portal stores itself, by the
// name it was stored under.
func (s *Session) DownloadUpload(ctx context.Context, uploadedName, dst string) error {
	ctx, span := tracer.Start(ctx, "session:DownloadUpload")
	defer span.End()

	err := s.download(ctx, UploadsRoot, uploadedName, "", dst)
	if err != nil {
		span.SetStatus(codes.Error, "download failed")
	}
	return err
}

// DownloadMilestoneUpload downloads a file uploaded to a custom milestone.
func (s *Session) DownloadMilestoneUpload(ctx context.Context, uploadedName, dst string) error {
	ctx, span := tracer.Start(ctx, "session:DownloadMilestoneUpload")
	defer span.End()

	err := s.download(ctx, MilestoneUploadsRoot, uploadedName, "/fairadmin/studentmilestonereport", dst)
	if err != nil {
		span.SetStatus(codes.Error, "download failed")
	}
	return err
}

// DownloadURL downloads a file kept in external blob storage.
func (s *Session) DownloadURL(ctx context.Context, url, dst string) error {
	ctx, span := tracer.Start(ctx, "session:DownloadURL")
	defer span.End()

	_, err := s.stream(ctx, requestOptions{endpoint: url}, nil, dst)
	if err != nil {
		span.SetStatus(codes.Error, "download failed")
	}
	return err
}
