package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
)

type transferBody struct {
	From     string `json:"from" validate:"required,max=8"`
	Currency string `json:"currency" validate:"required,alpha,len=3"`
}

func decode(t *testing.T, body string) (transferBody, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var dest transferBody
	err := DecodeJSONBody(req, &dest)
	return dest, err
}

func TestDecodeJSONBody(t *testing.T) {
	got, err := decode(t, `{"from":"acc1","currency":"USD"}`)
	require.NoError(t, err)
	assert.Equal(t, "acc1", got.From)

	cases := map[string]string{
		"empty":     ``,
		"syntax":    `{"from":`,
		"unknown":   `{"from":"acc1","currency":"USD","extra":1}`,
		"wrongType": `{"from":7,"currency":"USD"}`,
		"trailing":  `{"from":"acc1","currency":"USD"} {"from":"x"}`,
	}
	for name, body := range cases {
		_, err := decode(t, body)
		require.Error(t, err, name)
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), name)
	}
}

func TestDecodeJSONBodyFieldMessages(t *testing.T) {
	_, err := decode(t, `{"from":"way-too-long-account","currency":"US1"}`)
	require.Error(t, err)
	var typed *pkgerrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, map[string]string{
		"from":     "must be at most 8 characters",
		"currency": "must contain letters only",
	}, typed.Details())
}

func TestQueryCollectsErrors(t *testing.T) {
	q := NewQuery(httptest.NewRequest(http.MethodGet, "/?limit=5&id=%20txn-1%20", nil))
	assert.Equal(t, 5, q.Int("limit", 50, 1, 200))
	assert.Equal(t, 50, q.Int("missing", 50, 1, 200))
	assert.Equal(t, "txn-1", q.String("id", 64))
	require.NoError(t, q.Err())

	q = NewQuery(httptest.NewRequest(http.MethodGet, "/?limit=x&page=500&cursor=abcdef&id=a&id=b", nil))
	q.Int("limit", 50, 1, 200)
	q.Int("page", 1, 1, 200)
	q.String("cursor", 3)
	q.String("id", 64)

	err := q.Err()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.Equal(t, map[string]string{
		"limit":  "must be numeric",
		"page":   "must be between 1 and 200",
		"cursor": "must be at most 3 characters",
		"id":     "must be given once",
	}, typed.Details())
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "acc1", SanitizeString("  acc\x001\n ", 0))
	assert.Equal(t, "abc", SanitizeString("abcdef", 3))
	assert.Equal(t, "ab", SanitizeString("abé", 3), "never splits a rune")
}
