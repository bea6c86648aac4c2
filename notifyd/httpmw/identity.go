// Package httpmw contains the HTTP middleware for the notification API.
package httpmw

import (
	"context"
	"net/http"

	"github.com/Anilsharma012/ekschin/notifyd/httpapi"
	"github.com/Anilsharma012/ekschin/notifysdk"
)

type identityContextKey struct{}

// Identity is the caller identity asserted by the session gateway. This
// service does not verify credentials; the gateway terminates authentication
// and forwards the result in headers.
type Identity struct {
	UserID   string
	UserType string
}

// AuthenticatedIdentity returns the identity attached by ExtractIdentity.
func AuthenticatedIdentity(r *http.Request) Identity {
	identity, ok := r.Context().Value(identityContextKey{}).(Identity)
	if !ok {
		panic("developer error: identity middleware not provided")
	}
	return identity
}

// ExtractIdentity reads the session gateway's identity headers and attaches
// them to the request context. Requests without an identity are rejected.
func ExtractIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(notifysdk.SessionUserHeader)
			if userID == "" {
				httpapi.Write(r.Context(), rw, http.StatusUnauthorized, notifysdk.Response{
					Message: "No authenticated user supplied.",
				})
				return
			}
			userType := r.Header.Get(notifysdk.SessionUserTypeHeader)
			if userType == "" {
				userType = "user"
			}
			ctx := context.WithValue(r.Context(), identityContextKey{}, Identity{
				UserID:   userID,
				UserType: userType,
			})
			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}
