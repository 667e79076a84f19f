package telemetry

// API is where components send their logs and counts. Tests swap in a
// Recorder to assert on what was reported.
type API interface {
	// ReportBroken reports a failure someone should look at.
	//
	// The id names the component, not the exact failure, ex. a failed file
	// detail request is "session.student-file-detail" with the status code
	// in the params. Ids are lowercase, dots separate a component from its
	// operation and dashes separate words.
	ReportBroken(id string, params ...any)

	// ReportWarning reports something unexpected that was handled, ids
	// follow ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug reports details only useful while debugging.
	ReportDebug(msg string, params ...any)

	// ReportCount reports the size of something at this point in time,
	// counts are samples and should not be summed.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id it reports with a namespace.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	if inner == nil {
		inner = Discard{}
	}
	return ScopedAPI{namespace: namespace, inner: inner}
}

// Scope nests another namespace below this one.
func (s ScopedAPI) Scope(namespace string) ScopedAPI {
	return ScopedAPI{namespace: s.prefix(namespace), inner: s.inner}
}

func (s ScopedAPI) prefix(id string) string {
	return s.namespace + ": " + id
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.prefix(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.prefix(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.prefix(msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.prefix(id), count)
}

// Discard drops every report.
type Discard struct{}

func (Discard) ReportBroken(string, ...any)  {}
func (Discard) ReportWarning(string, ...any) {}
func (Discard) ReportDebug(string, ...any)   {}
func (Discard) ReportCount(string, int64)    {}
