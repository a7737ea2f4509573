package middleware

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/signalpost/signalpost-go/core"
)

// maxCapturedBody caps the request body excerpt attached to a report
const maxCapturedBody = 1024

// Severity levels attached to tracked errors
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityError    = "error"
)

// severityFor classifies an unhandled error: critical for server-side
// statuses, warning for client rejections and named validation or
// authorization kinds, error otherwise.
func severityFor(err error, status int) string {
	switch {
	case status >= 500:
		return SeverityCritical
	case status >= 400:
		return SeverityWarning
	case core.IsValidation(err):
		return SeverityWarning
	case status == 0 && core.StatusOf(err) >= 500:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// errorType names the error for the errors counter. Classified errors
// report their kind; everything else is generic.
func errorType(err error) string {
	if kind := core.KindOf(err); kind != "" {
		return string(kind)
	}
	return "internal"
}

// TrackError records a framework-level unhandled error in the registry
// and forwards a structured report asynchronously. It never blocks or
// fails the caller, so propagation of the error through the host's own
// error-handling chain is not delayed.
func (i *Instrumentation) TrackError(r *http.Request, body string, err error, status int) {
	if err == nil {
		return
	}

	severity := severityFor(err, status)
	if errc := i.errors.Inc(map[string]string{
		"type":     errorType(err),
		"severity": severity,
	}, 1); errc != nil {
		i.logger.Warn("errors counter update failed", zap.Error(errc))
	}

	if i.sender == nil {
		return
	}

	if len(body) > maxCapturedBody {
		body = body[:maxCapturedBody]
	}
	report := &core.ErrorReport{
		ExternalID:  core.NewExternalID(),
		Message:     err.Error(),
		Stack:       string(debug.Stack()),
		Code:        status,
		Severity:    severity,
		RequestBody: body,
		Service: map[string]interface{}{
			"name":        i.cfg.ServiceName,
			"version":     i.cfg.ServiceVersion,
			"environment": i.cfg.Environment,
		},
	}
	if r != nil {
		report.Payload = map[string]interface{}{
			"method": r.Method,
			"route":  routeOf(r),
		}
	}

	i.spawnDetached("error_report", func(ctx context.Context) error {
		_, sendErr := i.sender.SubmitErrorReport(ctx, report)
		return sendErr
	})
}

// ErrorHandler returns a middleware that captures a bounded excerpt of
// the request body, tracks any panic escaping the handler, and then
// re-panics so the host's own recovery keeps working.
func (i *Instrumentation) ErrorHandler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var captured bytes.Buffer
			if r.Body != nil {
				r.Body = &teeBody{
					reader: io.TeeReader(r.Body, &limitedWriter{buf: &captured, limit: maxCapturedBody}),
					closer: r.Body,
				}
			}

			defer func() {
				if rec := recover(); rec != nil {
					err, ok := rec.(error)
					if !ok {
						err = fmt.Errorf("panic: %v", rec)
					}
					i.TrackError(r, captured.String(), err, http.StatusInternalServerError)
					panic(rec)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

type teeBody struct {
	reader io.Reader
	closer io.Closer
}

func (t *teeBody) Read(p []byte) (int, error) { return t.reader.Read(p) }
func (t *teeBody) Close() error               { return t.closer.Close() }

// limitedWriter keeps the first limit bytes and silently drops the rest
type limitedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if remaining := w.limit - w.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			p = p[:remaining]
		}
		w.buf.Write(p)
	}
	return n, nil
}
