package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const viewerKey contextKey = "viewer"

// ViewerHeader carries the authenticated viewer's ID. Upstream gateway
// terminates real authentication and forwards the identity here.
const ViewerHeader = "X-Parley-User"

// RequireViewer extracts the viewer ID from the request header and stores
// it in the request context. Requests without a valid UUID are rejected.
func RequireViewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(ViewerHeader)
		if raw == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"missing ` + ViewerHeader + ` header"}`))
			return
		}

		viewerID, err := uuid.Parse(raw)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid viewer id"}`))
			return
		}

		ctx := context.WithValue(r.Context(), viewerKey, viewerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetViewerFromContext retrieves the viewer ID set by RequireViewer.
func GetViewerFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(viewerKey).(uuid.UUID)
	return id, ok
}
