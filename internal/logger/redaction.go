package logger

import (
	"io"
	"regexp"
)

// Patterns that match provider credentials in log lines. Ordering matters
// only for overlap; the Anthropic prefix is matched before the generic
// OpenAI-style key so both report the same placeholder.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),
	regexp.MustCompile(`api_key["\s:=]+[^\s"]+`),
	regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{20,}`),
	regexp.MustCompile(`secret["\s:=]+[^\s"]+`),
}

const placeholder = "[REDACTED]"

// Redactor scrubs provider credentials from log output before it reaches
// any writer.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor returns a redactor covering API keys, bearer tokens and
// key/secret assignments in config dumps.
func NewRedactor() *Redactor {
	return &Redactor{patterns: credentialPatterns}
}

// AddPattern registers an extra pattern. The compiled pattern applies to
// this redactor only, not the package defaults.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(append([]*regexp.Regexp{}, r.patterns...), re)
	return nil
}

// Redact replaces every credential match in s with a placeholder.
func (r *Redactor) Redact(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, placeholder)
	}
	return s
}

// Wrap returns a writer that redacts each chunk before forwarding to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{next: w, redactor: r}
}

type redactingWriter struct {
	next     io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	return w.next.Write([]byte(w.redactor.Redact(string(p))))
}
