package validators

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
)

// Query reads typed query parameters and collects every problem so one
// response can name all offending fields.
type Query struct {
	values url.Values
	errs   map[string]string
}

func NewQuery(r *http.Request) *Query {
	return &Query{values: r.URL.Query(), errs: map[string]string{}}
}

func (q *Query) single(key string) (string, bool) {
	vals, ok := q.values[key]
	if !ok || len(vals) == 0 {
		return "", false
	}
	if len(vals) > 1 {
		q.errs[key] = "must be given once"
		return "", false
	}
	return vals[0], true
}

// Int returns the value of key, def when absent, and records an error when
// the value is not a number within [min, max].
func (q *Query) Int(key string, def, min, max int) int {
	raw, ok := q.single(key)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		q.errs[key] = "must be numeric"
		return def
	}
	if value < min || value > max {
		q.errs[key] = fmt.Sprintf("must be between %d and %d", min, max)
		return def
	}
	return value
}

// String returns the sanitized value of key. Values longer than maxLen are
// rejected rather than cut, so a truncated cursor never reaches the store.
func (q *Query) String(key string, maxLen int) string {
	raw, ok := q.single(key)
	if !ok {
		return ""
	}
	value := SanitizeString(raw, 0)
	if maxLen > 0 && len(value) > maxLen {
		q.errs[key] = fmt.Sprintf("must be at most %d characters", maxLen)
		return ""
	}
	return value
}

// Err reports the collected problems as a VALIDATION_ERROR, or nil.
func (q *Query) Err() error {
	if len(q.errs) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameters").WithDetails(q.errs)
}
