package portal

const (
	report_initialize      = "session.initialize"
	report_authenticate    = "session.authenticate"
	report_csrf            = "session.csrf-token"
	report_categories      = "session.categories"
	report_student_data    = "session.student-data"
	report_file_detail     = "session.student-file-detail"
	report_list            = "session.list"
	report_set_columns     = "session.set-columns"
	report_export          = "session.export"
	report_download        = "session.download"
	report_unexpected_code = "session.status-code"
)
