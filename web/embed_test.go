package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSiteHandler(t *testing.T) {
	t.Parallel()

	h := SiteHandler()

	tests := []struct {
		path     string
		wantBody string
	}{
		{path: "/", wantBody: `id="chat"`},
		{path: "/contact.html", wantBody: "<h1>Contact</h1>"},
		{path: "/projects", wantBody: "<h1>Projects</h1>"},
		{path: "/work.html", wantBody: "<h1>Work Experience</h1>"},
		{path: "/no/such/page", wantBody: `id="chat"`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, http.StatusOK, w.Code)
			require.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}
