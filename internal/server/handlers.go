package server

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type sessionResponse struct {
	State         string    `json:"state"`
	RunID         string    `json:"run_id,omitempty"`
	Cuelist       string    `json:"cuelist,omitempty"`
	Cue           string    `json:"cue,omitempty"`
	Playback      string    `json:"playback,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	MemoryRSS     uint64    `json:"memory_rss_bytes,omitempty"`
}

type startRequest struct {
	Cuelist          string  `json:"cuelist"`
	DurationOverride float64 `json:"duration_override_seconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: s.version})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	st := s.control.Status()
	resp := sessionResponse{
		State:         st.State,
		RunID:         st.RunID,
		Cuelist:       st.Cuelist,
		Cue:           st.Cue,
		Playback:      st.Playback,
		StartedAt:     st.StartedAt,
		UptimeSeconds: time.Since(st.StartedAt).Seconds(),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			resp.MemoryRSS = mem.RSS
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Cuelist == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "cuelist is required"})
		return
	}

	override := time.Duration(req.DurationOverride * float64(time.Second))
	if err := s.control.StartSession(req.Cuelist, override); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.control.Status())
}

func (s *Server) handleSessionPause(w http.ResponseWriter, r *http.Request) {
	if err := s.control.PauseSession(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.control.Status())
}

func (s *Server) handleSessionResume(w http.ResponseWriter, r *http.Request) {
	if err := s.control.ResumeSession(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.control.Status())
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	s.control.StopSession()
	writeJSON(w, http.StatusOK, s.control.Status())
}
