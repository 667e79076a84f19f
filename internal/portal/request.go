package portal

import (
	"context"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/afero"
)

// requestOptions describes a single portal call. It is passed by value and
// never mutated, every call builds a fresh request from it so headers of one
// call cannot leak into the next.
type requestOptions struct {
	endpoint string
	// referer is a path relative to the base url.
	referer string
	csrf    string
	ajax    bool
	stream  bool
}

func (s *Session) request(ctx context.Context, opts requestOptions) *resty.Request {
	req := s.client.R().SetContext(ctx)
	if opts.referer != "" {
		req.SetHeader("Referer", s.BaseUrl()+opts.referer)
	}
	if opts.csrf != "" {
		req.SetHeader("X-CSRF-TOKEN", opts.csrf)
	}
	if opts.ajax {
		req.SetHeader("X-Requested-With", "XMLHttpRequest")
	}
	if opts.stream {
		req.SetDoNotParseResponse(true)
	}
	return req
}

// ajaxOptions builds the options of an XHR call made from `page`, it
// carries the CSRF token of that page.
func (s *Session) ajaxOptions(ctx context.Context, endpoint, page string) (requestOptions, error) {
	csrf, err := s.CsrfToken(ctx, page)
	if err != nil {
		return requestOptions{}, err
	}
	return requestOptions{
		endpoint: endpoint,
		referer:  page,
		csrf:     csrf,
		ajax:     true,
	}, nil
}

// post sends a form and returns the response. Unusable statuses are
// reported and yield a nil response without error, callers treat that as an
// empty result.
func (s *Session) post(ctx context.Context, reportId string, opts requestOptions, form map[string]string) (*resty.Response, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	res, err := s.request(ctx, opts).SetFormData(form).Post(opts.endpoint)
	if err != nil {
		return nil, &TransportError{Method: http.MethodPost, Url: opts.endpoint, Err: err}
	}
	if res.StatusCode() >= 300 {
		s.tel.ReportBroken(report_unexpected_code, reportId, res.Request.URL, res.StatusCode())
		if res.StatusCode() == 419 {
			// the token of the referring page has expired
			s.InvalidateCsrf(opts.referer)
		}
		return nil, nil
	}
	return res, nil
}

func isHtml(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/html")
	}
	return mediaType == "text/html"
}

// suggestedFilename reads the filename of a Content-Disposition header.
func suggestedFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err == nil && params["filename"] != "" {
		return params["filename"]
	}
	name := strings.TrimPrefix(strings.TrimSpace(header), "attachment;")
	name = strings.TrimPrefix(strings.TrimSpace(name), "filename=")
	return strings.Trim(name, `"`)
}

// stream sends `form` (or a GET when form is nil) and writes the response
// body to `dst`. Anything but a successful non html response is a
// TransportError and leaves `dst` untouched.
func (s *Session) stream(ctx context.Context, opts requestOptions, form map[string]string, dst string) (http.Header, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	opts.stream = true
	req := s.request(ctx, opts)
	method := http.MethodGet
	if form != nil {
		method = http.MethodPost
		req.SetFormData(form)
	}

	res, err := req.Execute(method, opts.endpoint)
	if err != nil {
		return nil, &TransportError{Method: method, Url: opts.endpoint, Err: err}
	}
	body := res.RawBody()
	defer body.Close()

	contentType := res.Header().Get("Content-Type")
	if res.StatusCode() >= 300 || isHtml(contentType) {
		s.tel.ReportBroken(report_download, opts.endpoint, res.StatusCode(), contentType)
		return nil, &TransportError{
			Method:      method,
			Url:         opts.endpoint,
			Status:      res.StatusCode(),
			ContentType: contentType,
		}
	}

	if err := writeAtomic(s.fs, dst, body); err != nil {
		return nil, err
	}
	return res.Header(), nil
}

// writeAtomic writes `r` to a temporary file beside `dst` and renames it
// into place once complete.
func writeAtomic(fs afero.Fs, dst string, r io.Reader) error {
	dir := filepath.Dir(dst)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return err
	}
	name := tmp.Name()
	_, err = io.Copy(tmp, r)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = fs.Remove(name)
		return err
	}
	if err := fs.Rename(name, dst); err != nil {
		_ = fs.Remove(name)
		return err
	}
	return nil
}
