package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/meridianprotocol/lpe/internal/guard"
	"github.com/meridianprotocol/lpe/internal/logger"
	"github.com/meridianprotocol/lpe/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes the engine's read-only status API.
type WebServer struct {
	router *mux.Router
	port   string
	guard  *guard.Guard
	// dbHealth and receiptHistory are nil when the engine runs without a
	// database; receipts are then served from the guard's in-memory log.
	dbHealth       func() error
	receiptHistory func(limit int) ([]types.OperationReceipt, error)
}

// NewWebServer creates a new web server instance over the guard.
func NewWebServer(port string, g *guard.Guard, dbHealth func() error, receiptHistory func(limit int) ([]types.OperationReceipt, error)) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:         mux.NewRouter(),
		port:           port,
		guard:          g,
		dbHealth:       dbHealth,
		receiptHistory: receiptHistory,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/config", ws.handleGetConfig).Methods("GET")
	api.HandleFunc("/accounts/{address}", ws.handleGetAccount).Methods("GET")
	api.HandleFunc("/positions", ws.handleGetPositions).Methods("GET")
	api.HandleFunc("/twap", ws.handleGetTWAP).Methods("GET")
	api.HandleFunc("/receipts", ws.handleGetReceipts).Methods("GET")
	api.HandleFunc("/emergency", ws.handleGetEmergency).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := true
	if ws.dbHealth != nil {
		if err := ws.dbHealth(); err != nil {
			dbHealthy = false
		}
	}

	emergency := ws.guard.EmergencySnapshot()

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !dbHealthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}
	if emergency.EmergencyMode {
		overallStatus = "HALTED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "lpe-liquidity-protection-engine",
			"version": "1.0.0",
		},
		"engine_status": map[string]interface{}{
			"database_healthy":          dbHealthy,
			"emergency_mode":            emergency.EmergencyMode,
			"circuit_breaker_triggered": emergency.CircuitBreakerTriggered,
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetConfig returns the active protective parameters
func (ws *WebServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"config":    ws.guard.ConfigSnapshot(),
		"timestamp": time.Now().UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetAccount returns one account's ledger record
func (ws *WebServer) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	address := vars["address"]

	acct := ws.guard.AccountSnapshot(address)
	if acct == nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "Account not found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, acct)
}

// handleGetPositions returns the open position book
func (ws *WebServer) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions := ws.guard.PositionsSnapshot()
	response := map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetTWAP returns the cached TWAP, if any
func (ws *WebServer) handleGetTWAP(w http.ResponseWriter, r *http.Request) {
	twap, at, ok := ws.guard.TWAPSnapshot()
	if !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "No TWAP computed yet")
		return
	}

	response := map[string]interface{}{
		"twap":        twap.String(),
		"computed_at": at.UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetReceipts returns recent operation receipts
func (ws *WebServer) handleGetReceipts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	var receipts []types.OperationReceipt
	if ws.receiptHistory != nil {
		loaded, err := ws.receiptHistory(limit)
		if err != nil {
			webLogger.Error().Err(err).Msg("Failed to load receipt history, serving in-memory receipts")
			receipts = ws.guard.Receipts(limit)
		} else {
			receipts = loaded
		}
	} else {
		receipts = ws.guard.Receipts(limit)
	}
	if receipts == nil {
		receipts = []types.OperationReceipt{}
	}

	response := map[string]interface{}{
		"receipts": receipts,
		"count":    len(receipts),
		"limit":    limit,
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetEmergency returns the state of the halt switches
func (ws *WebServer) handleGetEmergency(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.guard.EmergencySnapshot())
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
