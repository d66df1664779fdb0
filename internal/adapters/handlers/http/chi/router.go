package chi

import (
	"back-to-origin/internal/adapters/handlers/http/chi/edge"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// HealthPath is reserved by the edge and never looked up in the stores
const HealthPath = "/health"

// NewRouter builds http.Handler with chi
func NewRouter(logger *slog.Logger, edgeHandler *edge.Handler, env string) http.Handler {
	r := chi.NewRouter()

	//handle requestID to facilitate debug (X-Request-ID)
	//It fetches from request if exists, or creates it
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)

	if env != "prod" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
			AllowedMethods:   []string{"GET", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Range", "If-None-Match", "If-Modified-Since", "X-Request-ID"},
			ExposedHeaders:   []string{"Content-Length", "Content-Range", "ETag"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get(HealthPath, func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:    "ok",
			Timestamp: time.Now(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	})

	r.Mount("/", edgeHandler.Routes())

	return r
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
