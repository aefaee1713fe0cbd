package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/fusecapture/internal/artifact"
	"github.com/audiolibrelab/fusecapture/internal/catalog"
	"github.com/audiolibrelab/fusecapture/internal/config"
	"github.com/audiolibrelab/fusecapture/internal/label"
	"github.com/audiolibrelab/fusecapture/internal/recorder"
	"github.com/audiolibrelab/fusecapture/internal/service"
	"github.com/audiolibrelab/fusecapture/internal/source"
)

// Server represents the HTTP control surface of FuseCapture
type Server struct {
	service    service.Service
	configFile string
	port       string
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status    string                    `json:"status"`
	Message   string                    `json:"message,omitempty"`
	Session   *service.RecordingSession `json:"session,omitempty"`
	Stats     recorder.Stats            `json:"stats"`
	Profile   string                    `json:"active_profile"`
	LastError string                    `json:"last_error,omitempty"`
}

// SourcesResponse describes the sources bound by the active profile
type SourcesResponse struct {
	SampleSource     config.SampleSourceDefinition `json:"sample_source"`
	EventSource      config.EventSourceDefinition  `json:"event_source"`
	SampleKinds      []string                      `json:"sample_kinds"`
	EventKinds       []string                      `json:"event_kinds"`
	AcceptsInjection bool                          `json:"accepts_injection"`
}

// StartRequest names the session to start
type StartRequest struct {
	Name string `json:"name"`
}

// EventRequest carries either a raw marker vector or named fields
type EventRequest struct {
	Marker []int32 `json:"marker,omitempty"`
	Status string  `json:"status,omitempty"`
	Image  *int32  `json:"image,omitempty"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// New creates a new web server instance
func New(configFile string, port string) (*Server, error) {
	// Load configuration with active profile from config file
	cfg, err := config.LoadWithProfile(configFile, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := service.New(cfg, configFile)
	if err != nil {
		return nil, err
	}
	return NewWithService(svc, configFile, port), nil
}

// NewWithService wraps an existing service
func NewWithService(svc service.Service, configFile string, port string) *Server {
	return &Server{
		service:    svc,
		configFile: configFile,
		port:       port,
	}
}

// Handler returns the router for all endpoints
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/start", s.handleStartRecording)
	mux.HandleFunc("/stop", s.handleStopRecording)
	mux.HandleFunc("/pause", s.handlePauseRecording)
	mux.HandleFunc("/resume", s.handleResumeRecording)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/config/profiles", s.handleProfiles)
	mux.HandleFunc("/config/select", s.handleSelectProfile)
	mux.HandleFunc("/api/artifacts/", s.handleArtifact)
	return mux
}

// Start starts the web server
func (s *Server) Start() error {
	localIP := getLocalIP()

	slog.Info("Starting FuseCapture Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	return http.ListenAndServe(":"+s.port, s.Handler())
}

// Close stops any recording and releases the service
func (s *Server) Close() error {
	return s.service.Close()
}

// handleIndex serves a short endpoint listing
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>FuseCapture</title>
</head>
<body>
    <h1>FuseCapture</h1>
    <ul>
        <li>POST /start - Start a session (name)</li>
        <li>POST /stop - Stop the session</li>
        <li>POST /pause, POST /resume - Suspend and resume acquisition</li>
        <li>POST /events - Inject a marker ({"marker":[1,3,1,1]} or {"status":"look","image":3})</li>
        <li>GET /status - Recording status and counters</li>
        <li>GET /sessions - Session catalog</li>
        <li>GET /sources - Bound sources</li>
        <li>GET /config/profiles, POST /config/select - Profiles</li>
        <li>GET /api/artifacts/{name} - Artifact summary</li>
    </ul>
</body>
</html>`

// handleStartRecording starts a session named by the form value or JSON body
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var req StartRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err), "operation", "start_recording")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "operation", "start_recording")
			return
		}
		req.Name = r.FormValue("name")
	}

	if req.Name == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Session name is required", "operation", "start_recording")
		return
	}

	slog.Info("Server: starting recording", "name", req.Name)
	if err := s.service.StartRecording(req.Name); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to start recording: %v", err),
			"name", req.Name, "operation", "start_recording")
		return
	}

	_, session := s.service.GetRecordingStatus()
	s.sendJSON(w, map[string]interface{}{
		"success": true,
		"message": "Recording started",
		"session": session,
	})
}

// handleStopRecording stops the current recording session
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.StopRecording(); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to stop recording: %v", err),
			"operation", "stop_recording")
		return
	}

	s.sendJSON(w, GenericResponse{Success: true, Message: "Recording stopped"})
}

func (s *Server) handlePauseRecording(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.PauseRecording(); err != nil {
		s.sendErrorResponse(w, http.StatusConflict, err.Error(), "operation", "pause")
		return
	}
	s.sendJSON(w, GenericResponse{Success: true, Message: "Recording paused"})
}

func (s *Server) handleResumeRecording(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.ResumeRecording(); err != nil {
		s.sendErrorResponse(w, http.StatusConflict, err.Error(), "operation", "resume")
		return
	}
	s.sendJSON(w, GenericResponse{Success: true, Message: "Recording resumed"})
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	status, session := s.service.GetRecordingStatus()
	s.sendJSON(w, StatusResponse{
		Status:    string(status),
		Message:   generateStatusMessage(status, session),
		Session:   session,
		Stats:     s.service.GetStats(),
		Profile:   s.service.GetConfig().Name,
		LastError: s.service.GetLastError(),
	})
}

func generateStatusMessage(status service.RecordingStatus, session *service.RecordingSession) string {
	switch status {
	case service.StatusRecording:
		return fmt.Sprintf("Recording '%s'", session.Name)
	case service.StatusPaused:
		return fmt.Sprintf("Recording '%s' paused", session.Name)
	case service.StatusFailed:
		return "Last recording failed"
	default:
		return "Ready to record"
	}
}

// handleEvents injects a marker into the bound event source
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err), "operation", "push_event")
		return
	}

	ev, err := req.event()
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "push_event")
		return
	}

	if err := s.service.PushEvent(ev); err != nil {
		s.sendErrorResponse(w, http.StatusConflict, err.Error(), "operation", "push_event")
		return
	}
	s.sendJSON(w, GenericResponse{Success: true, Message: fmt.Sprintf("Event queued: %s", ev)})
}

func (req EventRequest) event() (label.Event, error) {
	if req.Marker != nil {
		return label.DecodeMarker(req.Marker)
	}

	var ev label.Event
	if req.Status != "" {
		st, err := label.ParseStatus(req.Status)
		if err != nil {
			return ev, err
		}
		ev.HasStatus, ev.Status = true, st
	}
	if req.Image != nil {
		ev.HasImage, ev.Image = true, *req.Image
	}
	if !ev.HasStatus && !ev.HasImage {
		return ev, fmt.Errorf("event needs a marker, a status or an image")
	}
	return ev, nil
}

// handleSessions lists cataloged sessions, most recent first
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid limit '%s'", v), "operation", "list_sessions")
			return
		}
		limit = n
	}

	sessions, err := s.service.ListSessions(limit)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "list_sessions")
		return
	}
	s.sendJSON(w, struct {
		Sessions []catalog.Session `json:"sessions"`
	}{sessions})
}

// handleSources returns the sources bound by the active profile
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	cfg := s.service.GetConfig()
	kind := strings.ToLower(cfg.EventSource.Kind)
	s.sendJSON(w, SourcesResponse{
		SampleSource:     cfg.SampleSource,
		EventSource:      cfg.EventSource,
		SampleKinds:      source.AvailableSampleKinds(),
		EventKinds:       source.AvailableEventKinds(),
		AcceptsInjection: kind == config.EventKindQueue || kind == config.EventKindMQTT,
	})
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	s.sendJSON(w, map[string]interface{}{
		"profiles": s.getAvailableProfiles(),
		"active":   s.service.GetConfig().Name,
	})
}

// getAvailableProfiles returns the profile names from the config file
func (s *Server) getAvailableProfiles() []string {
	profiles := []string{}
	if s.configFile == "" {
		return profiles
	}

	// Create a new viper instance to avoid interfering with global config
	v := viper.New()
	v.SetConfigFile(s.configFile)
	if err := v.ReadInConfig(); err != nil {
		slog.Debug("Failed to read config file for profiles", "error", err)
		return profiles
	}

	var rootConfig config.RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		slog.Debug("Failed to unmarshal config for profiles", "error", err)
		return profiles
	}
	for profileName := range rootConfig.Configs {
		profiles = append(profiles, profileName)
	}
	sort.Strings(profiles)
	return profiles
}

// handleSelectProfile switches the active profile and persists the choice
func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "operation", "profile_selection")
		return
	}

	profile := r.FormValue("profile")
	slog.Debug("Profile selection request", "profile", profile)

	if err := s.service.LoadProfile(profile); err != nil {
		s.sendErrorResponse(w, http.StatusConflict, err.Error(), "profile", profile, "operation", "profile_selection")
		return
	}

	if err := config.UpdateActiveConfig(s.configFile, profile); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to save profile selection to config file: %v", err),
			"profile", profile, "operation", "profile_selection")
		return
	}

	slog.Info("Profile changed", "profile", profile)
	s.sendJSON(w, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Profile changed to %s", profile),
		"profile": profile,
	})
}

// handleArtifact summarizes the artifact of a session by name
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/artifacts/")
	if name == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Artifact name is required", "operation", "inspect_artifact")
		return
	}

	summary, err := s.service.InspectArtifact(name)
	if err != nil {
		s.sendErrorResponse(w, http.StatusNotFound, err.Error(), "name", name, "operation", "inspect_artifact")
		return
	}
	s.sendJSON(w, artifactResponse(summary))
}

func artifactResponse(summary *artifact.Summary) map[string]interface{} {
	statuses := map[string]int{}
	for _, st := range summary.StatusesSorted() {
		statuses[st.String()] = summary.StatusRows[st]
	}
	return map[string]interface{}{
		"path":            summary.Path,
		"channels":        summary.Channels,
		"rows":            summary.Rows,
		"first_timestamp": summary.FirstTimestamp,
		"last_timestamp":  summary.LastTimestamp,
		"ordered":         summary.Ordered,
		"status_rows":     statuses,
		"image_rows":      summary.ImageRows,
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
