package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS allows browser clients from origins. An empty list allows any origin;
// credentials are never allowed since tokens travel in headers.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		MaxAge:           3600,
		AllowCredentials: false,
	})
	return handler.Handler
}
