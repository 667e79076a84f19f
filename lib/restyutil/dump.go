package restyutil

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/go-resty/resty/v2"
)

// redactedFields are form fields whose value never reaches a dump.
var redactedFields = []string{"password", "_token"}

const redacted = "<redacted>"

func writeHeaders(out *strings.Builder, headers http.Header) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		for _, v := range headers[k] {
			fmt.Fprintf(out, "%s: %s\n", k, v)
		}
	}
}

func redactForm(body string) string {
	values, err := url.ParseQuery(body)
	if err != nil {
		return body
	}
	changed := false
	for _, field := range redactedFields {
		if values.Has(field) {
			values.Set(field, redacted)
			changed = true
		}
	}
	if !changed {
		return body
	}
	return values.Encode()
}

func requestBody(req *http.Request) string {
	if req == nil || req.GetBody == nil {
		return "<no body>"
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("<unreadable body: %v>", err)
	}
	if body == nil {
		return "<no body>"
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("<unreadable body: %v>", err)
	}
	if strings.HasPrefix(req.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return redactForm(string(data))
	}
	return string(data)
}

// downloads are streamed to disk, resty never buffers their body
func responseBody(res *resty.Response) string {
	if body := res.Body(); body != nil {
		return string(body)
	}
	return "<streamed>"
}

// Dump renders a request and its response as plain text.
func Dump(res *resty.Response) string {
	var out strings.Builder
	req := res.Request

	out.WriteString("---- REQUEST ----\n\n")
	fmt.Fprintf(&out, "%s %s\n\n", req.Method, req.URL)
	if req.RawRequest != nil {
		writeHeaders(&out, req.RawRequest.Header)
	}
	out.WriteString("\n")
	out.WriteString(requestBody(req.RawRequest))

	location := req.URL
	if res.RawResponse != nil {
		if redirect, err := res.RawResponse.Location(); err == nil {
			location = redirect.String()
		}
	}
	out.WriteString("\n\n---- RESPONSE ----\n\n")
	fmt.Fprintf(&out, "%d %s\n\n", res.StatusCode(), location)
	writeHeaders(&out, res.Header())
	out.WriteString("\n")
	out.WriteString(responseBody(res))
	return out.String()
}
