package rpc

import (
	"net/http"

	"github.com/gorilla/mux"
)

// AttachRoutes registers the engine's two wire endpoints on the router.
func AttachRoutes(router *mux.Router, server *Server) {
	router.HandleFunc("/push", server.HandlePush).Methods("POST")
	router.HandleFunc("/pull", server.HandlePull).Methods("POST")
}

// AttachMiddleware attaches the default middleware to the router.
func AttachMiddleware(router *mux.Router) {
	router.Use(setHeaders)
}

// setHeaders stamps the default response headers onto every response.
func setHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// NewRouter creates a router with the default middleware and the engine's endpoints attached.
func NewRouter(server *Server) *mux.Router {
	router := mux.NewRouter()
	AttachMiddleware(router)
	AttachRoutes(router, server)
	return router
}
