package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/bryanchriswhite/IrisStreamer/internal/config"
	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
	"github.com/bryanchriswhite/IrisStreamer/internal/pipeline"
)

// Version is reported by /api/health
const Version = "0.1.0"

// Server represents the HTTP API server
type Server struct {
	router     *mux.Router
	configMgr  *config.Manager
	pipe       *pipeline.Pipeline
	httpServer *http.Server
}

// GraphInfo describes the running graph
type GraphInfo struct {
	RunID       string              `json:"run_id"`
	State       string              `json:"state"`
	InputStream string              `json:"input_stream"`
	Order       []string            `json:"order"`
	Streams     []string            `json:"streams"`
	SidePackets []string            `json:"side_packets"`
	Nodes       []config.NodeConfig `json:"nodes"`
}

// NewServer creates a new API server
func NewServer(configMgr *config.Manager, pipe *pipeline.Pipeline) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		configMgr: configMgr,
		pipe:      pipe,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Pipeline state
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/graph", s.handleGraph).Methods("GET")

	// Depth values
	api.HandleFunc("/depth/latest", s.handleDepthLatest).Methods("GET")
	api.HandleFunc("/depth/stream", s.handleDepthStream)

	// Configuration; changes apply on the next start
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")
	api.HandleFunc("/config/side_packets/{name}", s.handleSetSidePacket).Methods("PUT")

	// Video
	s.router.HandleFunc("/stream", s.handleMJPEG("stream"))
	s.router.HandleFunc("/view", s.handleMJPEG("view"))
	s.router.HandleFunc("/stats", s.handleMJPEG("stats"))

	s.router.PathPrefix("/").HandlerFunc(s.handleIndex)
}

// Handler returns the router wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves HTTP on port until Shutdown is called.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.WithComponent("api").Info().Str("addr", addr).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.pipe == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("pipeline not running"))
		return
	}
	writeJSON(w, http.StatusOK, s.pipe.Status())
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if s.pipe == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("pipeline not running"))
		return
	}
	runner := s.pipe.Runner()
	info := GraphInfo{
		RunID:       runner.RunID(),
		State:       runner.State().String(),
		InputStream: runner.InputStream(),
		Order:       runner.Order(),
		Streams:     runner.Streams(),
		SidePackets: runner.SidePackets().Names(),
		Nodes:       s.pipe.Graph().Nodes,
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDepthLatest(w http.ResponseWriter, r *http.Request) {
	if s.pipe == nil || s.pipe.DepthHub() == nil {
		writeError(w, http.StatusNotFound, errors.New("depth output disabled"))
		return
	}
	writeJSON(w, http.StatusOK, s.pipe.DepthHub().Latest())
}

func (s *Server) handleDepthStream(w http.ResponseWriter, r *http.Request) {
	if s.pipe == nil || s.pipe.DepthHub() == nil {
		http.Error(w, "depth output disabled", http.StatusNotFound)
		return
	}
	s.pipe.DepthHub().ServeHTTP(w, r)
}

// handleMJPEG serves one of the MJPEG output's handlers by name.
func (s *Server) handleMJPEG(which string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.pipe == nil || s.pipe.MJPEG() == nil {
			http.Error(w, "video output disabled", http.StatusNotFound)
			return
		}
		m := s.pipe.MJPEG()
		switch which {
		case "stream":
			m.GetHTTPHandler()(w, r)
		case "view":
			m.GetViewerHandler()(w, r)
		default:
			m.GetStatsHandler()(w, r)
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	// Start from the current config so partial bodies keep other values.
	cfg := s.configMgr.Get()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.configMgr.Update(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "note": "restart to apply"})
}

func (s *Server) handleSetSidePacket(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req struct {
		Value *float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, errors.New("value is required"))
		return
	}
	if err := s.configMgr.SetSidePacket(name, *req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "name": name, "value": *req.Value})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		if strings.HasPrefix(r.URL.Path, "/api") {
			writeError(w, http.StatusNotFound, fmt.Errorf("no route %s %s", r.Method, r.URL.Path))
			return
		}
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>IrisStreamer</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            max-width: 800px;
            margin: 50px auto;
            padding: 20px;
            background: #f5f5f5;
        }
        .container {
            background: white;
            padding: 30px;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        h1 { color: #333; margin-top: 0; }
        .status {
            padding: 10px;
            background: #e8f5e9;
            border-left: 4px solid #4caf50;
            margin: 20px 0;
        }
        .info { color: #666; line-height: 1.6; }
        a { color: #1976d2; text-decoration: none; }
        a:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <div class="container">
        <h1>IrisStreamer</h1>
        <div class="status">Server is running</div>
        <div class="info">
            <p>Streams frames through the iris tracking graph and reports per-eye depth.</p>
            <h3>Endpoints:</h3>
            <ul>
                <li><a href="/view">/view</a> - Annotated video with live depth</li>
                <li><a href="/stream">/stream</a> - Raw MJPEG stream</li>
                <li><a href="/api/status">/api/status</a> - Runner state and stream statistics</li>
                <li><a href="/api/graph">/api/graph</a> - Execution order and streams</li>
                <li><a href="/api/depth/latest">/api/depth/latest</a> - Latest depth values</li>
                <li><a href="/api/config">/api/config</a> - Configuration</li>
                <li><a href="/api/health">/api/health</a> - Health check</li>
            </ul>
        </div>
    </div>
</body>
</html>`
