package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
)

type itemBody struct {
	ProductID uint64 `json:"product_id" validate:"gt=0"`
}

type sampleBody struct {
	Items []itemBody `json:"items" validate:"required,dive"`
	Key   string     `json:"key" validate:"omitempty,max=5"`
}

func TestDecodeJSONBody(t *testing.T) {
	var body sampleBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"items":[{"product_id":1}],"key":"abc"}`))
	require.NoError(t, DecodeJSONBody(req, &body))
	assert.Equal(t, uint64(1), body.Items[0].ProductID)
}

func TestDecodeJSONBodyErrors(t *testing.T) {
	cases := map[string]string{
		"malformed":     `{"items":`,
		"unknown field": `{"items":[],"extra":1}`,
		"missing items": `{}`,
		"bad item":      `{"items":[{"product_id":0}]}`,
		"long key":      `{"items":[],"key":"toolong"}`,
		"two objects":   `{"items":[{"product_id":1}]} {"items":[]}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			var body sampleBody
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
			err := DecodeJSONBody(req, &body)
			assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
}

func TestDecodeJSONBodyFieldDetails(t *testing.T) {
	var body sampleBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"items":[{"product_id":0}]}`))
	err := DecodeJSONBody(req, &body)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, map[string]string{"items[0].product_id": "must be greater than 0"}, typed.Details())
}

func TestParsePathID(t *testing.T) {
	withParam := func(v string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rc := chi.NewRouteContext()
		rc.URLParams.Add("orderId", v)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
	}

	id, err := ParsePathID(withParam("42"), "orderId")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	for _, bad := range []string{"", "0", "-1", "abc"} {
		_, err := ParsePathID(withParam(bad), "orderId")
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), bad)
	}
}

func TestQueryParamIgnoresPlaceholder(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/success?session_id={CHECKOUT_SESSION_ID}", nil)
	assert.Equal(t, "", QueryParam(req, "session_id"))

	req = httptest.NewRequest(http.MethodGet, "/success?session_id=+cs_1+", nil)
	assert.Equal(t, "cs_1", QueryParam(req, "session_id"))
}
