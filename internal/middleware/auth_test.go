package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, UserFromContext(r.Context()))
	})
}

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth(map[string]string{"alice": "key-a", "bob": "key-b"})(echoUser())

	cases := []struct {
		header string
		code   int
		user   string
	}{
		{"Bearer key-a", http.StatusOK, "alice"},
		{"key-b", http.StatusOK, "bob"},
		{"", http.StatusUnauthorized, ""},
		{"Bearer ", http.StatusUnauthorized, ""},
		{"Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/analyses/x", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, c.code, rec.Code, c.header)
		if c.code == http.StatusOK {
			assert.Equal(t, c.user, rec.Body.String())
		}
	}
}

func TestWebhookSignature(t *testing.T) {
	const secret = "whsec"
	body := `{"status":"CLONING"}`
	var seen string
	h := WebhookSignature(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/analyses/a", strings.NewReader(body))
		if sig != "" {
			req.Header.Set(SignatureHeader, sig)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := send(Sign(secret, []byte(body)))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, body, seen)

	assert.Equal(t, http.StatusNoContent, send("sha256="+Sign(secret, []byte(body))).Code)
	assert.Equal(t, http.StatusUnauthorized, send("").Code)
	assert.Equal(t, http.StatusUnauthorized, send("zz-not-hex").Code)
	assert.Equal(t, http.StatusUnauthorized, send(Sign("other", []byte(body))).Code)
}

func TestVerifySignature_EmptySecret(t *testing.T) {
	assert.False(t, VerifySignature("", []byte("x"), Sign("", []byte("x"))))
}
