//go:build !swagger

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMountSwagger_DisabledByDefault(t *testing.T) {
	r := chi.NewRouter()
	MountSwagger(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected /swagger to be unmounted without the swagger tag, got %d", rr.Code)
	}
}
