package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the API server
type Server struct {
	intentHandler *IntentHandler
	offerHandler  *OfferHandler
	logger        *zap.Logger
	server        *http.Server
}

// NewServer creates a new API server
func NewServer(port int, intentHandler *IntentHandler, offerHandler *OfferHandler, logger *zap.Logger) *Server {
	return &Server{
		intentHandler: intentHandler,
		offerHandler:  offerHandler,
		logger:        logger,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start starts the API server
func (s *Server) Start() error {
	router := s.setupRoutes()
	s.server.Handler = router

	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Add middleware
	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	// API routes
	api := router.PathPrefix("/api").Subrouter()

	// Intent endpoints
	api.HandleFunc("/intents", s.intentHandler.CreateIntent).Methods("POST")
	api.HandleFunc("/intents/{exchange_id}", s.intentHandler.GetIntent).Methods("GET")
	api.HandleFunc("/intents/{exchange_id}/retry", s.intentHandler.RetryIntent).Methods("POST")
	api.HandleFunc("/intents/{exchange_id}/status", s.intentHandler.OverrideStatus).Methods("PUT")

	// Offer endpoints
	api.HandleFunc("/offers", s.offerHandler.CreateOffer).Methods("POST")
	api.HandleFunc("/offers", s.offerHandler.ListOffers).Methods("GET")
	api.HandleFunc("/offers/{offer_id}", s.offerHandler.GetOffer).Methods("GET")
	api.HandleFunc("/offers/{offer_id}/lock", s.offerHandler.LockSeller).Methods("POST")
	api.HandleFunc("/offers/{offer_id}/accept", s.offerHandler.AcceptOffer).Methods("POST")
	api.HandleFunc("/offers/{offer_id}/release", s.offerHandler.ReleaseOffer).Methods("POST")
	api.HandleFunc("/offers/{offer_id}/cancel", s.offerHandler.CancelOffer).Methods("POST")

	// Health check endpoint
	api.HandleFunc("/health", s.healthCheck).Methods("GET")

	// Prometheus metrics
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Call the next handler
		next.ServeHTTP(w, r)

		// Log the request
		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// healthCheck handles the health check endpoint
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode health check response", zap.Error(err))
	}
}
