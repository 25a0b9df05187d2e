package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blinds-controller/internal/intake"
	"github.com/thatsimonsguy/blinds-controller/internal/model"
	"github.com/thatsimonsguy/blinds-controller/internal/state"
)

type Server struct {
	table  *state.Table
	intake *intake.Intake
}

// CommandRequest sets a blind's target. Calibrate is optional; when omitted a
// pending calibration request is left in place.
type CommandRequest struct {
	Set       *int  `json:"set"`
	Speed     *int  `json:"speed"`
	Calibrate *bool `json:"calibrate,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(table *state.Table, in *intake.Intake) *Server {
	return &Server{table: table, intake: in}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/blinds", s.handleBlinds)
	mux.HandleFunc("/api/blinds/", s.handleBlindOperations)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		mux.ServeHTTP(w, r)
	})
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("address", addr).Msg("Starting REST API server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) handleBlinds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.table.Snapshots())
}

func (s *Server) handleBlindOperations(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/blinds/"), "/")
	if parts[0] == "" {
		s.writeError(w, http.StatusNotFound, "Blind ID required")
		return
	}

	id, err := strconv.Atoi(parts[0])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Blind ID must be an integer")
		return
	}
	snap, err := s.table.Snapshot(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Blind not found")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.writeJSON(w, http.StatusOK, snap)
	case len(parts) == 2 && parts[1] == "command" && r.Method == http.MethodPut:
		s.setCommand(w, r, id)
	case len(parts) == 2 && parts[1] == "calibrate" && r.Method == http.MethodPost:
		s.calibrate(w, snap)
	case len(parts) <= 2:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	default:
		s.writeError(w, http.StatusNotFound, "Invalid path")
	}
}

func (s *Server) setCommand(w http.ResponseWriter, r *http.Request, id int) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	var err error
	if req.Calibrate == nil {
		err = s.intake.Retarget(id, req.Set, req.Speed)
	} else {
		err = s.intake.Apply(id, intake.Command{Calibrate: *req.Calibrate, Set: req.Set, Speed: req.Speed})
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info().Int("blind", id).Int("target", *req.Set).Msg("Blind target set via API")
	w.WriteHeader(http.StatusAccepted)
}

// calibrate requests a calibration run while keeping the current target and speed.
func (s *Server) calibrate(w http.ResponseWriter, snap model.Snapshot) {
	set := snap.Target
	speed := snap.RequestedSpeed
	if speed < intake.MinSpeed || speed > intake.MaxSpeed {
		speed = intake.MaxSpeed
	}

	if err := s.intake.Apply(snap.ID, intake.Command{Calibrate: true, Set: &set, Speed: &speed}); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info().Int("blind", snap.ID).Msg("Calibration requested via API")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
