package portal

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"stemsync/internal/fairdata"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxPages bounds pagination in case the portal keeps reporting more pages.
const maxPages = 100

const studentDataPerPage = 999

// Categories returns the project categories of the region keyed by id.
func (s *Session) Categories(ctx context.Context) (map[string]string, error) {
	ctx, span := tracer.Start(ctx, "session:Categories")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	res, err := s.request(ctx, requestOptions{}).Get(csrfPage)
	if err != nil {
		return nil, &TransportError{Method: "GET", Url: csrfPage, Err: err}
	}
	if res.StatusCode() >= 300 {
		s.tel.ReportBroken(report_unexpected_code, report_categories, csrfPage, res.StatusCode())
		return map[string]string{}, nil
	}
	doc, err := parseDocument(res.Body())
	if err != nil {
		return nil, err
	}
	return s.extractor.Categories(doc), nil
}

func (s *Session) studentDataForm(categoryId string, page int) map[string]string {
	return map[string]string{
		"_token":                       s.token(),
		"page":                         strconv.Itoa(page),
		"category_select":              categoryId,
		"searchhere":                   "",
		"status_select":                "undefined",
		"research_plan_student_status": "undefined",
		"orderby":                      "files_approval_status",
		"sortby":                       "",
		"reg_sel":                      "undefined",
		"teacher_id":                   "undefined",
		"all_forms_status":             "",
		"form_selected":                "undefined",
		"class_winner":                 "undefined",
		"school_id_dropdownvalue":      "undefined",
		"form_selected_status":         "undefined",
		"child_fair_select":            "",
		"per_page":                     strconv.Itoa(studentDataPerPage),
		"hidden_school_id":             "undefined",
		"hidden_region_id":             s.RegionId(),
		"student_completion_status":    "",
		"files_approval_status":        "",
		"final_status":                 "",
		"project_status":               "",
		"admin_status":                 "",
		"division":                     "0",
		"from_page":                    "FAIRADMIN",
		"student_activation_status":    "",
	}
}

// StudentData returns the files and forms student table of a category, an
// empty category id selects every category.
func (s *Session) StudentData(ctx context.Context, categoryId string) (fairdata.Listing, error) {
	ctx, span := tracer.Start(ctx, "session:StudentData", trace.WithAttributes(
		attribute.String("category_id", categoryId),
	))
	defer span.End()

	opts, err := s.ajaxOptions(ctx, "/filesAndForms/getStudentData", csrfPage)
	if err != nil {
		span.SetStatus(codes.Error, "no csrf token")
		return nil, err
	}

	out := fairdata.Listing{}
	pages := 1
	for page := 1; page <= pages && page <= maxPages; page++ {
		res, err := s.post(ctx, report_student_data, opts, s.studentDataForm(categoryId, page))
		if err != nil {
			return nil, err
		}
		if res == nil {
			return out, nil
		}
		doc, err := parseDocument(res.Body())
		if err != nil {
			return nil, err
		}
		rows, err := s.extractor.StudentRows(doc)
		if err != nil {
			span.SetStatus(codes.Error, "unexpected structure")
			return nil, err
		}
		for id, fields := range rows {
			out[id] = fields
		}
		pages = s.extractor.PageCount(doc)
	}
	s.tel.ReportCount(report_student_data, int64(len(out)))
	return out, nil
}

// StudentFileDetail returns the file manifest of a single student.
func (s *Session) StudentFileDetail(ctx context.Context, studentId, infoId string) (fairdata.Manifest, error) {
	ctx, span := tracer.Start(ctx, "session:StudentFileDetail", trace.WithAttributes(
		attribute.String("student_id", studentId),
	))
	defer span.End()

	opts, err := s.ajaxOptions(ctx, "/filesAndForms/studentFormsAndFilesDetailedView", csrfPage)
	if err != nil {
		return nil, err
	}
	res, err := s.post(ctx, report_file_detail, opts, map[string]string{
		"studentId": studentId,
		"info_id":   infoId,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return fairdata.Manifest{}, nil
	}
	doc, err := parseDocument(res.Body())
	if err != nil {
		return nil, err
	}
	manifest, err := s.extractor.FileDetail(doc, s.loc)
	if err != nil {
		span.SetStatus(codes.Error, "unexpected structure")
		s.tel.ReportBroken(report_file_detail, err, studentId)
		return nil, err
	}
	return manifest, nil
}

type ListKind string

const (
	ListStudent       ListKind = "student"
	ListJudge         ListKind = "judge"
	ListVolunteer     ListKind = "volunteer"
	ListPaymentStatus ListKind = "paymentStatus"
)

func ParseListKind(value string) (ListKind, error) {
	for _, kind := range []ListKind{ListStudent, ListJudge, ListVolunteer, ListPaymentStatus} {
		if strings.EqualFold(value, string(kind)) {
			return kind, nil
		}
	}
	return "", &ConfigurationError{Field: "list", Reason: fmt.Sprintf("unknown list %q", value)}
}

type listSpec struct {
	page      string
	endpoint  string
	rowPrefix string
	perPage   int
	filters   map[string]string
}

// list views are not named consistently across the portal
var listSpecs = map[ListKind]listSpec{
	ListJudge: {
		page:      "/fairadmin/judge",
		endpoint:  "/fairadmin/ShowJudgesList",
		rowPrefix: "judgeRow_",
		perPage:   50,
		filters: map[string]string{
			"searchhere":                     "",
			"category_select":                "",
			"judge_types":                    "",
			"judge_activation_status":        "",
			"status_select":                  "",
			"final_assigned_category_select": "",
			"special_awards_judge":           "",
			"final_status":                   "",
			"division_judge":                 "0",
			"assigned_division":              "0",
			"judge_checkin_status":           "",
			"division":                       "0",
			"last_year":                      "",
			"dashBoardPage":                  "",
			"assigned_lead_judge":            "",
		},
	},
	ListStudent: {
		page:      "/fairadmin/student",
		endpoint:  "/fairadmin/ShowStudentList",
		rowPrefix: "studentRow_",
		perPage:   999,
		filters: map[string]string{
			"searchhere":                "",
			"category_select":           "",
			"round2_category_select":    "",
			"child_fair_select":         "",
			"status_select":             "",
			"class_id":                  "",
			"student_completion_status": "",
			"files_approval_status":     "",
			"final_status":              "",
			"project_status":            "",
			"admin_status":              "",
			"student_checkin_status":    "",
			"student_activation_status": "",
			"division":                  "0",
			"project_score":             "",
			"last_year":                 "",
			"round_select":              "",
		},
	},
	ListVolunteer: {
		page:      "/fairadmin/volunteers",
		endpoint:  "/fairadmin/showVolunteerList",
		rowPrefix: "volunteerRow_",
		perPage:   999,
		filters: map[string]string{
			"searchhere":          "",
			"registration_status": "",
			"last_year":           "",
		},
	},
}

func lookupList(kind ListKind) (listSpec, error) {
	spec, ok := listSpecs[kind]
	if !ok {
		return listSpec{}, &ConfigurationError{Field: "list", Reason: fmt.Sprintf("%q has no list view", kind)}
	}
	return spec, nil
}

func (l listSpec) form(page int) map[string]string {
	form := make(map[string]string, len(l.filters)+2)
	for k, v := range l.filters {
		form[k] = v
	}
	form["page"] = strconv.Itoa(page)
	form["per_page"] = strconv.Itoa(l.perPage)
	return form
}

// List returns every row of a judge, student or volunteer list view keyed by
// record id.
func (s *Session) List(ctx context.Context, kind ListKind) (fairdata.Listing, error) {
	ctx, span := tracer.Start(ctx, "session:List", trace.WithAttributes(
		attribute.String("kind", string(kind)),
	))
	defer span.End()

	spec, err := lookupList(kind)
	if err != nil {
		return nil, err
	}
	opts, err := s.ajaxOptions(ctx, spec.endpoint, spec.page)
	if err != nil {
		return nil, err
	}

	out := fairdata.Listing{}
	pages := 1
	for page := 1; page <= pages && page <= maxPages; page++ {
		res, err := s.post(ctx, report_list, opts, spec.form(page))
		if err != nil {
			return nil, err
		}
		if res == nil {
			break
		}
		doc, err := parseDocument(res.Body())
		if err != nil {
			return nil, err
		}
		rows, err := s.extractor.Listing(doc, string(kind)+" list", spec.rowPrefix)
		if err != nil {
			span.SetStatus(codes.Error, "unexpected structure")
			return nil, err
		}
		for id, fields := range rows {
			out[id] = fields
		}
		pages = s.extractor.PageCount(doc)
	}
	s.tel.ReportCount(report_list+"."+string(kind), int64(len(out)))
	return out, nil
}

// SetColumns makes every column of a list view visible, exports only
// contain visible columns.
func (s *Session) SetColumns(ctx context.Context, kind ListKind) error {
	ctx, span := tracer.Start(ctx, "session:SetColumns", trace.WithAttributes(
		attribute.String("kind", string(kind)),
	))
	defer span.End()

	spec, err := lookupList(kind)
	if err != nil {
		return err
	}
	opts, err := s.ajaxOptions(ctx, spec.endpoint, spec.page)
	if err != nil {
		return err
	}
	res, err := s.post(ctx, report_set_columns, opts, spec.form(1))
	if err != nil {
		return err
	}
	if res == nil {
		return &TransportError{Method: "POST", Url: spec.endpoint, Err: fmt.Errorf("list view unavailable")}
	}
	doc, err := parseDocument(res.Body())
	if err != nil {
		return err
	}
	columns := s.extractor.ColumnCodes(doc)
	if len(columns) == 0 {
		return &ProtocolError{Page: string(kind) + " list", Missing: "column settings"}
	}

	opts.endpoint = "/fairadmin/saveStudentColumnSettings"
	res, err = s.post(ctx, report_set_columns, opts, map[string]string{
		"checked_fields":          strings.Join(columns, ","),
		"region_id":               s.RegionId(),
		"management_user_type_id": "3",
	})
	if err != nil {
		return err
	}
	if res == nil {
		return &TransportError{Method: "POST", Url: opts.endpoint, Err: fmt.Errorf("column settings rejected")}
	}
	return nil
}
