package middleware

import (
	"net/http"
)

const (
	// DefaultMaxBodySize covers every JSON and form endpoint.
	DefaultMaxBodySize int64 = 1 << 20 // 1MB

	// UploadMaxBodySize leaves room for multipart framing around a
	// maximum-size profile image.
	UploadMaxBodySize int64 = 6 << 20 // 6MB
)

// RequestSize limits the size of incoming request bodies.
//
// It wraps the request body with http.MaxBytesReader; handlers translate
// the resulting *http.MaxBytesError into 413 Payload Too Large.
func RequestSize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// JSONRequestSize limits request bodies to 1MB.
func JSONRequestSize() func(http.Handler) http.Handler {
	return RequestSize(DefaultMaxBodySize)
}

// UploadRequestSize limits request bodies to 6MB for image uploads.
func UploadRequestSize() func(http.Handler) http.Handler {
	return RequestSize(UploadMaxBodySize)
}
