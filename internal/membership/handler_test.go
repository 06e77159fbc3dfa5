// internal/membership/handler_test.go
package membership

import (
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiClient struct {
	t    *testing.T
	base *url.URL
	http *http.Client
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	svc := NewMemoryService()
	require.NoError(t, svc.RegisterOperator("desk@example.com", "pw-123456"))
	srv := httptest.NewServer(NewHandler(svc).Routes())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &apiClient{t: t, base: base, http: &http.Client{Jar: jar}}
}

func (c *apiClient) xsrf() string {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == XSRFCookie {
			v, err := url.QueryUnescape(ck.Value)
			require.NoError(c.t, err)
			return v
		}
	}
	return ""
}

func (c *apiClient) send(method, path, body string, withToken bool) int {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base.String()+path, strings.NewReader(body))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if withToken {
		req.Header.Set(XSRFHeader, c.xsrf())
	}
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestHandler_XSRFAndSession(t *testing.T) {
	c := newAPI(t)
	login := `{"email":"desk@example.com","password":"pw-123456"}`

	assert.Equal(t, 419, c.send(http.MethodPost, "/login", login, false), "no XSRF cookie yet")

	assert.Equal(t, http.StatusNoContent, c.send(http.MethodGet, "/csrf-cookie", "", false))
	require.NotEmpty(t, c.xsrf())
	assert.Equal(t, 419, c.send(http.MethodPost, "/login", login, false), "cookie without header")

	assert.Equal(t, http.StatusUnauthorized, c.send(http.MethodGet, "/api/member/1", "", false))

	assert.Equal(t, http.StatusUnauthorized, c.send(http.MethodPost, "/login", `{"email":"desk@example.com","password":"nope"}`, true))
	assert.Equal(t, http.StatusUnprocessableEntity, c.send(http.MethodPost, "/login", `{}`, true))
	assert.Equal(t, http.StatusOK, c.send(http.MethodPost, "/login", login, true))

	assert.Equal(t, http.StatusNotFound, c.send(http.MethodGet, "/api/member/1", "", false))
	assert.Equal(t, http.StatusCreated, c.send(http.MethodPost, "/api/members/store", `{"first_name":"Ada","last_name":"L","money_paid_monthly":"50"}`, true))
	assert.Equal(t, http.StatusOK, c.send(http.MethodGet, "/api/member/1", "", false))
	assert.Equal(t, http.StatusUnprocessableEntity, c.send(http.MethodPost, "/api/payments", `{"member_id":1}`, true))
	assert.Equal(t, http.StatusCreated, c.send(http.MethodPost, "/api/payments", `{"member_id":1,"payment_date":"2026-03-01","balance":50}`, true))
	assert.Equal(t, http.StatusOK, c.send(http.MethodPut, "/api/wallet/update-balance/member/1", `{"balance":"10"}`, true))
	assert.Equal(t, http.StatusBadRequest, c.send(http.MethodDelete, "/api/member/delete/x", "", true))

	assert.Equal(t, http.StatusNoContent, c.send(http.MethodPost, "/logout", "", true))
	assert.Equal(t, http.StatusUnauthorized, c.send(http.MethodGet, "/api/member/1", "", false))
}
