package logger

import (
	"fmt"
	"io"
	"regexp"
)

// minPayloadRun is the shortest base64 run treated as media payload rather
// than an id or digest.
const minPayloadRun = 256

// Redactor elides media payloads and secrets from log lines
type Redactor struct {
	payload  *regexp.Regexp
	patterns []*regexp.Regexp
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		// data: URLs and bare base64 runs, as found in control frames
		payload: regexp.MustCompile(fmt.Sprintf(`(?:data:[a-z]+/[a-zA-Z0-9.+-]+(?:;[a-z0-9=-]+)*;base64,)?[A-Za-z0-9+/]{%d,}={0,2}`, minPayloadRun)),
		patterns: []*regexp.Regexp{
			// Bearer tokens
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

			// Credentials in URLs
			regexp.MustCompile(`://[^/\s:@"]+:[^/\s@"]+@`),

			// Passwords and secrets
			regexp.MustCompile(`password["\s:=]+[^\s"]+`),
			regexp.MustCompile(`secret["\s:=]+[^\s"]+`),

			// AWS keys
			regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact elides payloads and secrets from a string
func (r *Redactor) Redact(s string) string {
	result := r.payload.ReplaceAllStringFunc(s, func(match string) string {
		return fmt.Sprintf("[PAYLOAD %d bytes]", len(match))
	})
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

// redactingWriter is an io.Writer that redacts sensitive information
type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success since callers account for what they
// handed over, not for the shorter redacted line.
func (w *redactingWriter) Write(p []byte) (int, error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	return len(p), nil
}
