// Package devserver is a self-contained stand-in for the chat backend: the
// user directory, token auth, message history, and the websocket DM hub.
// It exists so the client can be exercised end to end; it is not a
// production server.
package devserver

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	Store  *Store
	Hub    *Hub
	Router *mux.Router
	logger *zap.Logger
}

// Options for New. DemoEmail is the identity the external-provider stub
// logs in as.
type Options struct {
	DemoEmail string
}

func New(store *Store, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	hub := NewHub(store, logger)
	go hub.Run()

	h := &Handler{Store: store, Hub: hub, Logger: logger}

	r := mux.NewRouter()
	r.Use(loggingMiddleware(logger))
	r.Use(metricsMiddleware)

	r.HandleFunc("/signup", h.Signup).Methods("POST")
	r.HandleFunc("/auth/login", h.Login).Methods("POST")
	r.HandleFunc("/auth/me", h.Me).Methods("GET")
	r.HandleFunc("/auth/{provider}", h.ExternalLogin(opts.DemoEmail)).Methods("GET")
	r.HandleFunc("/users/search", h.SearchUsers).Methods("GET")
	r.HandleFunc("/chat/history", h.History).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		ServeWS(hub, w, req)
	})

	return &Server{Store: store, Hub: hub, Router: r, logger: logger}
}

func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("took", time.Since(start)))
		})
	}
}
