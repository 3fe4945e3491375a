package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"

	"gridclaim/internal/logging"
	"gridclaim/internal/store"
	"gridclaim/internal/ws"
)

func newRouter(st *store.Store, wsServer *ws.Server) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(apiLogMiddleware()).Get("/healthz", healthHandler(st))
	r.Get("/ws", wsServer.HandleWS)
	return r
}

func healthHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func apiLogMiddleware() func(http.Handler) http.Handler {
	return httplog.RequestLogger(
		slog.New(slog.NewJSONHandler(logging.Writer(), &slog.HandlerOptions{})),
		&httplog.Options{
			Level:  slog.LevelInfo,
			Schema: httplog.Schema{ResponseStatus: "status", ResponseDuration: "duration_ms"},
			LogExtraAttrs: func(req *http.Request, _ string, _ int) []slog.Attr {
				return []slog.Attr{
					slog.String("request_id", chimw.GetReqID(req.Context())),
					slog.String("method", req.Method),
					slog.String("path", req.URL.Path),
				}
			},
		},
	)
}
