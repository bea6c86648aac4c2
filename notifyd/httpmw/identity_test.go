package httpmw_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Anilsharma012/ekschin/notifyd/httpmw"
	"github.com/Anilsharma012/ekschin/notifysdk"
)

func TestExtractIdentity(t *testing.T) {
	t.Parallel()

	successHandler := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		identity := httpmw.AuthenticatedIdentity(r)
		rw.Header().Set("Test-User-Id", identity.UserID)
		rw.Header().Set("Test-User-Type", identity.UserType)
		rw.WriteHeader(http.StatusOK)
	})

	t.Run("Found", func(t *testing.T) {
		t.Parallel()
		rw := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(notifysdk.SessionUserHeader, "u1")
		r.Header.Set(notifysdk.SessionUserTypeHeader, "seller")

		httpmw.ExtractIdentity()(successHandler).ServeHTTP(rw, r)
		require.Equal(t, http.StatusOK, rw.Code)
		require.Equal(t, "u1", rw.Header().Get("Test-User-Id"))
		require.Equal(t, "seller", rw.Header().Get("Test-User-Type"))
	})

	t.Run("DefaultUserType", func(t *testing.T) {
		t.Parallel()
		rw := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(notifysdk.SessionUserHeader, "u1")

		httpmw.ExtractIdentity()(successHandler).ServeHTTP(rw, r)
		require.Equal(t, http.StatusOK, rw.Code)
		require.Equal(t, "user", rw.Header().Get("Test-User-Type"))
	})

	t.Run("Missing", func(t *testing.T) {
		t.Parallel()
		rw := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)

		httpmw.ExtractIdentity()(successHandler).ServeHTTP(rw, r)
		require.Equal(t, http.StatusUnauthorized, rw.Code)
	})
}
