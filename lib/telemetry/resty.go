package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/semconv/v1.13.0/httpconv"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_http_request  = "http.request"
	report_http_response = "http.response"
	report_http_failed   = "http.failed"
)

// requestInfo travels in the request context between the hooks.
type requestInfo struct {
	seq     uint64
	started time.Time
}

type requestInfoKey struct{}

type restyHooks struct {
	tel    API
	tracer trace.Tracer
	seq    atomic.Uint64
}

// InstrumentResty wraps every request made by `client` in a client span
// and reports requests and responses to `tel` under a shared sequence
// number.
func InstrumentResty(client *resty.Client, tracerName string, tel API) {
	if tel == nil {
		tel = Discard{}
	}
	h := &restyHooks{tel: tel, tracer: otel.Tracer(tracerName)}
	client.OnBeforeRequest(h.before)
	client.OnAfterResponse(h.after)
	client.OnError(h.failed)
}

func spanName(req *resty.Request) string {
	if req.RawRequest != nil && req.RawRequest.URL != nil {
		return req.Method + " " + req.RawRequest.URL.Path
	}
	return req.Method
}

func (h *restyHooks) before(_ *resty.Client, req *resty.Request) error {
	info := requestInfo{seq: h.seq.Add(1), started: time.Now()}
	ctx, _ := h.tracer.Start(req.Context(), req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int64("http.sequence", int64(info.seq))),
	)
	req.SetContext(context.WithValue(ctx, requestInfoKey{}, info))
	h.tel.ReportDebug(report_http_request, info.seq, req.Method, req.URL)
	return nil
}

func (h *restyHooks) after(_ *resty.Client, res *resty.Response) error {
	req := res.Request
	span := trace.SpanFromContext(req.Context())
	defer span.End()

	// the raw request only exists once resty has sent it
	span.SetName(spanName(req))
	if req.RawRequest != nil {
		span.SetAttributes(httpconv.ClientRequest(req.RawRequest)...)
	}
	if res.RawResponse != nil {
		span.SetAttributes(httpconv.ClientResponse(res.RawResponse)...)
	}
	if res.StatusCode() >= 400 {
		span.SetStatus(codes.Error, res.Status())
	}

	if info, ok := req.Context().Value(requestInfoKey{}).(requestInfo); ok {
		h.tel.ReportDebug(report_http_response, info.seq, res.Status(), time.Since(info.started).String())
	}
	return nil
}

func (h *restyHooks) failed(req *resty.Request, err error) {
	span := trace.SpanFromContext(req.Context())
	defer span.End()

	span.SetName(spanName(req))
	span.RecordError(err)
	span.SetStatus(codes.Error, "request failed")

	var elapsed time.Duration
	var seq uint64
	if info, ok := req.Context().Value(requestInfoKey{}).(requestInfo); ok {
		elapsed = time.Since(info.started)
		seq = info.seq
	}
	h.tel.ReportBroken(report_http_failed, err, seq, req.Method, req.URL, elapsed.String())
}
