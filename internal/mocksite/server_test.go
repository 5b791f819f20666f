package mocksite_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eloisaabril01/emailscrap/internal/mocksite"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestServer_ServesPagesAndRecordsCalls(t *testing.T) {
	site := mocksite.New()
	site.HTML("/", "<a href='mailto:info@acme.test'>mail</a>")
	site.SetPage("/flaky", mocksite.Page{Body: "ok", FailFirst: 1})
	srv := httptest.NewServer(site.Handler())
	defer srv.Close()

	status, body := get(t, srv.URL+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "info@acme.test")

	status, _ = get(t, srv.URL+"/flaky")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	status, body = get(t, srv.URL+"/flaky")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)

	status, _ = get(t, srv.URL+"/missing")
	assert.Equal(t, http.StatusNotFound, status)

	assert.Len(t, site.Calls(), 4)
	assert.Equal(t, 2, site.Hits("/flaky"))
	assert.Equal(t, 1, site.Hits("/missing"))
}
