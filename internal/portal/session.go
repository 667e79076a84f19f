// Package portal is an authenticated session with a STEM Wizard region
// portal.
package portal

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"stemsync/internal/extract"
	"stemsync/lib/restyutil"
	"stemsync/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("internal/portal")

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

const (
	MinCredentialLength = 6
	maxRedirects        = 10
	// csrfPage is the page CSRF tokens are taken from when an operation does
	// not name its own.
	csrfPage = "/filesAndForms"
)

type State int

const (
	StateUnauthenticated State = iota
	StateRegionResolved
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateRegionResolved:
		return "region-resolved"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Options struct {
	// BaseUrl defaults to BaseUrlFor(Domain, "stemwizard.com").
	BaseUrl  string
	Domain   string
	Username string
	Password string

	// RateLimit is the number of requests per second, unlimited when zero.
	RateLimit  float64
	RetryCount int
	Timeout    time.Duration

	Tel telemetry.API
	// Location is used for timestamps the portal renders without a zone.
	Location *time.Location
	Rules    extract.Rules
	// Fs receives downloads, defaults to the os filesystem.
	Fs afero.Fs
	// InstrumentOutput receives a dump of every http exchange when set.
	InstrumentOutput restyutil.InstrumentOutput
}

func BaseUrlFor(domain, host string) string {
	return fmt.Sprintf("https://%s.%s", domain, host)
}

type Session struct {
	client    *resty.Client
	baseUrl   *url.URL
	extractor extract.Extractor
	tel       telemetry.API
	loc       *time.Location
	fs        afero.Fs

	domain   string
	username string
	password string

	mutex        sync.Mutex
	state        State
	loginToken   string
	regionId     string
	regionDomain string

	csrfMutex sync.Mutex
	csrf      map[string]string

	closed atomic.Bool
}

func New(opts Options) (*Session, error) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = BaseUrlFor(opts.Domain, "stemwizard.com")
	}
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, &ConfigurationError{Field: "base_url", Reason: err.Error()}
	}
	if opts.Tel == nil {
		opts.Tel = telemetry.Discard{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Rules.FallbackField == "" {
		opts.Rules = extract.DefaultRules(nil)
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(opts.BaseUrl, "/"))
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	if baseUrl.Scheme == "https" {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetHeader("user-agent", userAgent)
	client.SetRedirectPolicy(
		resty.FlexibleRedirectPolicy(maxRedirects),
		resty.DomainCheckRedirectPolicy(baseUrl.Hostname()),
	)
	client.SetTimeout(opts.Timeout)

	if opts.RetryCount > 0 {
		client.SetRetryCount(opts.RetryCount)
		client.AddRetryCondition(func(res *resty.Response, err error) bool {
			return res != nil && res.Request.Method == http.MethodGet && res.StatusCode() >= 500
		})
	}

	limit := rate.Inf
	burst := 1
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
		burst = max(1, int(opts.RateLimit))
	}
	limiter := rate.NewLimiter(limit, burst)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	tel := telemetry.NewScopedAPI("portal", opts.Tel)
	telemetry.InstrumentResty(client, "internal/portal/http", tel)
	restyutil.InstrumentClient(client, opts.InstrumentOutput)

	return &Session{
		client:    client,
		baseUrl:   baseUrl,
		extractor: extract.New(opts.Rules),
		tel:       tel,
		loc:       opts.Location,
		fs:        opts.Fs,
		domain:    opts.Domain,
		username:  opts.Username,
		password:  opts.Password,
		csrf:      map[string]string{},
	}, nil
}

func (s *Session) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

func (s *Session) RegionId() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.regionId
}

func (s *Session) RegionDomain() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.regionDomain
}

func (s *Session) Domain() string {
	return s.domain
}

func (s *Session) BaseUrl() string {
	return strings.TrimRight(s.baseUrl.String(), "/")
}

func (s *Session) Location() *time.Location {
	return s.loc
}

func (s *Session) token() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.loginToken
}

func (s *Session) checkOpen() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *Session) validateCredentials() error {
	if s.domain == "" {
		return &ConfigurationError{Field: "domain", Reason: "is required"}
	}
	if len(s.username) < MinCredentialLength {
		return &ConfigurationError{Field: "username", Reason: fmt.Sprintf("must be at least %d characters", MinCredentialLength)}
	}
	if len(s.password) < MinCredentialLength {
		return &ConfigurationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", MinCredentialLength)}
	}
	return nil
}

func parseDocument(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

// Initialize scrapes the login token and the region the portal serves from
// the login page.
func (s *Session) Initialize(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "session:Initialize")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.validateCredentials(); err != nil {
		span.SetStatus(codes.Error, "invalid credentials")
		return err
	}

	res, err := s.request(ctx, requestOptions{endpoint: "/admin/login"}).Get("/admin/login")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login page")
		return &TransportError{Method: http.MethodGet, Url: "/admin/login", Err: err}
	}
	if res.StatusCode() >= 300 {
		span.SetStatus(codes.Error, res.Status())
		return &TransportError{Method: http.MethodGet, Url: "/admin/login", Status: res.StatusCode()}
	}

	doc, err := parseDocument(res.Body())
	if err != nil {
		return &ProtocolError{Page: "login", Missing: "html document"}
	}

	token := strings.TrimSpace(doc.Find("input[name=_token]").First().AttrOr("value", ""))
	if token == "" {
		span.SetStatus(codes.Error, "no login token")
		s.tel.ReportBroken(report_initialize, "login token not found")
		return &ProtocolError{Page: "login", Missing: "_token"}
	}

	region := map[string]string{}
	doc.Find("input[name]").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if strings.Contains(name, "region") {
			region[name] = strings.TrimSpace(input.AttrOr("value", ""))
		}
	})
	for _, key := range []string{"region_id", "region_domain"} {
		if region[key] == "" {
			span.SetStatus(codes.Error, "no region info")
			s.tel.ReportBroken(report_initialize, key+" not found on login page")
			return &ProtocolError{Page: "login", Missing: key}
		}
	}
	if region["region_domain"] != s.domain {
		return &ConfigurationError{
			Field:  "domain",
			Reason: fmt.Sprintf("portal serves region %q, configured for %q", region["region_domain"], s.domain),
		}
	}

	s.mutex.Lock()
	s.loginToken = token
	s.regionId = region["region_id"]
	s.regionDomain = region["region_domain"]
	s.state = StateRegionResolved
	s.mutex.Unlock()

	s.tel.ReportDebug("resolved region", s.regionDomain, s.regionId)
	return nil
}

// Authenticate logs in with the configured credentials, it reports whether
// the portal accepted them. Failures are reported to telemetry, not
// returned.
func (s *Session) Authenticate(ctx context.Context) bool {
	ctx, span := tracer.Start(ctx, "session:Authenticate")
	defer span.End()

	if s.State() == StateUnauthenticated {
		if err := s.Initialize(ctx); err != nil {
			span.SetStatus(codes.Error, "initialize failed")
			s.tel.ReportBroken(report_authenticate, err)
			return false
		}
	}
	if err := s.checkOpen(); err != nil {
		s.tel.ReportBroken(report_authenticate, err)
		return false
	}

	s.mutex.Lock()
	form := map[string]string{
		"region_domain": s.domain,
		"region_id":     s.regionId,
		"region":        s.regionDomain,
		"_token":        s.loginToken,
		"username":      s.username,
		"password":      s.password,
	}
	s.mutex.Unlock()

	res, err := s.request(ctx, requestOptions{}).
		SetFormData(form).
		Post("/admin/authenticate")
	if err != nil {
		span.SetStatus(codes.Error, "failed to post credentials")
		s.tel.ReportBroken(report_authenticate, err)
		return false
	}

	ok := res.StatusCode() == http.StatusOK
	s.mutex.Lock()
	if ok {
		s.state = StateAuthenticated
	} else {
		s.state = StateFailed
	}
	s.mutex.Unlock()

	if !ok {
		span.SetStatus(codes.Error, res.Status())
		s.tel.ReportBroken(report_authenticate, fmt.Errorf("authentication rejected"), s.domain, res.StatusCode())
		return false
	}
	s.tel.ReportDebug("authenticated", s.domain)
	return true
}

// CsrfToken returns the CSRF token of `endpoint`, it is fetched once and
// cached until invalidated.
func (s *Session) CsrfToken(ctx context.Context, endpoint string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	s.csrfMutex.Lock()
	defer s.csrfMutex.Unlock()
	if token, ok := s.csrf[endpoint]; ok {
		return token, nil
	}

	res, err := s.request(ctx, requestOptions{}).Get(endpoint)
	if err != nil {
		return "", &TransportError{Method: http.MethodGet, Url: endpoint, Err: err}
	}
	if res.StatusCode() >= 300 {
		s.tel.ReportWarning(report_csrf, endpoint, res.StatusCode())
		return "", &TransportError{Method: http.MethodGet, Url: endpoint, Status: res.StatusCode()}
	}
	doc, err := parseDocument(res.Body())
	if err != nil {
		return "", &ProtocolError{Page: endpoint, Missing: "html document"}
	}
	token := strings.TrimSpace(doc.Find("meta[name=csrf-token]").First().AttrOr("content", ""))
	if token == "" {
		s.tel.ReportWarning(report_csrf, "no csrf-token meta", endpoint)
		return "", &ProtocolError{Page: endpoint, Missing: "csrf-token"}
	}
	s.csrf[endpoint] = token
	return token, nil
}

func (s *Session) InvalidateCsrf(endpoint string) {
	s.csrfMutex.Lock()
	defer s.csrfMutex.Unlock()
	delete(s.csrf, endpoint)
}

// Close releases idle connections, every later call fails with ErrClosed.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.client.GetClient().CloseIdleConnections()
}
