package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/fiscalyze/backend/internal/analysis"
	"github.com/fiscalyze/backend/internal/config"
	"github.com/fiscalyze/backend/internal/session"
	"github.com/fiscalyze/backend/internal/upload"
)

type Server struct {
	cfg             config.ServerConfig
	registry        *session.Registry
	uploads         *upload.Store
	svc             *analysis.Service
	broadcaster     *Broadcaster
	log             *slog.Logger
	frontendDir     string
	dev             bool
	embeddedHandler http.Handler
	allowedOrigins  map[string]bool
	allowedHosts    map[string]bool
}

func NewServer(
	cfg config.ServerConfig,
	registry *session.Registry,
	uploads *upload.Store,
	svc *analysis.Service,
	broadcaster *Broadcaster,
	log *slog.Logger,
	frontendDir string,
	dev bool,
	embeddedHandler http.Handler,
) *Server {
	s := &Server{
		cfg:             cfg,
		registry:        registry,
		uploads:         uploads,
		svc:             svc,
		broadcaster:     broadcaster,
		log:             log,
		frontendDir:     frontendDir,
		dev:             dev,
		embeddedHandler: embeddedHandler,
		allowedOrigins:  make(map[string]bool),
		allowedHosts:    make(map[string]bool),
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/process/{file_id}", s.handleProcess)
	mux.HandleFunc("POST /api/query/{session_id}", s.handleQuery)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{session_id}", s.handleSession)
	mux.HandleFunc("GET /api/files/{file_id}/download", s.handleDownload)

	if s.dev {
		s.log.Info("serving frontend from filesystem", "dir", s.frontendDir)
		mux.Handle("/", http.FileServer(http.Dir(s.frontendDir)))
	} else if s.embeddedHandler != nil {
		s.log.Info("serving embedded frontend")
		mux.Handle("/", s.embeddedHandler)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	FileID   string `json:"file_id,omitempty"`
	Filename string `json:"filename,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Message: "missing file field"})
		return
	}
	defer file.Close()

	stored, err := s.uploads.Save(header.Filename, file)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, upload.ErrUnsupportedType) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, uploadResponse{Message: err.Error()})
		return
	}

	s.broadcaster.FileUploaded(stored.ID, stored.Name, stored.Size)

	writeJSON(w, http.StatusOK, uploadResponse{
		Success:  true,
		Message:  "file stored",
		FileID:   stored.ID,
		Filename: stored.Name,
	})
}

type questionRequest struct {
	Question string `json:"question"`
}

type runResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Result    string `json:"result,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("file_id")

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, runResponse{Message: "invalid request body"})
		return
	}
	if req.Question == "" {
		req.Question = "Analyze the uploaded invoice data"
	}

	// The run streams to observers while this request waits for the final
	// result. Client disconnect cancels the run through the request context.
	id, res, err := s.svc.Process(r.Context(), fileID, req.Question)
	if err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, runResponse{Message: "file not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, runResponse{Message: err.Error(), SessionID: id})
		return
	}

	if !res.Result.Success {
		writeJSON(w, http.StatusOK, runResponse{
			Message:   res.Result.Error,
			SessionID: id,
		})
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		Success:   true,
		Message:   "analysis completed",
		Result:    res.Result.Payload,
		SessionID: id,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeJSON(w, http.StatusBadRequest, runResponse{Message: "question is required"})
		return
	}

	res, err := s.svc.Query(r.Context(), sessionID, req.Question)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			writeJSON(w, http.StatusNotFound, runResponse{Message: "session not found"})
		case errors.Is(err, analysis.ErrSessionNotReady):
			writeJSON(w, http.StatusConflict, runResponse{Message: err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, runResponse{Message: err.Error()})
		}
		return
	}

	if !res.Result.Success {
		writeJSON(w, http.StatusOK, runResponse{Message: res.Result.Error, SessionID: sessionID})
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		Success:   true,
		Message:   "query completed",
		Result:    res.Result.Payload,
		SessionID: sessionID,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.All())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.PathValue("session_id"))
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("file_id")
	path, err := s.uploads.Path(fileID)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileID))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, path)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	o := s.broadcaster.Register(conn)

	// Read loop: any observer text earns a pong; read failure (disconnect,
	// failed heartbeat) unregisters.
	go func() {
		defer s.broadcaster.Unregister(o)
		for {
			msgType, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.TextMessage {
				s.broadcaster.Pong(o)
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

func ListenAndServe(host string, port int, mux *http.ServeMux, log *slog.Logger) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Info("server listening", "addr", addr)
	return http.ListenAndServe(addr, securityHeaders(mux))
}
