package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"partbank/internal/api"
	"partbank/internal/config"
	"partbank/internal/logging"
	"partbank/internal/services"
	"partbank/internal/store"
)

// maxUploadBytes bounds one multipart upload request.
const maxUploadBytes = 256 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return authMiddleware(strings.TrimSpace(cfg.Paths.APIToken), next)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/batches", auth(srv.handleCreateBatch))
	mux.HandleFunc("GET /api/batches", auth(srv.handleListBatches))
	mux.HandleFunc("GET /api/batches/{id}", auth(srv.handleGetBatch))
	mux.HandleFunc("POST /api/batches/{id}/items", auth(srv.handleUploadItem))
	mux.HandleFunc("POST /api/batches/{id}/finalize", auth(srv.handleFinalizeBatch))
	mux.HandleFunc("POST /api/batches/{id}/cancel", auth(srv.handleCancelBatch))
	mux.HandleFunc("POST /api/proposals/{id}/approve", auth(srv.handleApproveProposal))
	mux.HandleFunc("GET /api/deadletters", auth(srv.handleListDeadLetters))
	mux.HandleFunc("POST /api/deadletters/{id}/replay", auth(srv.handleReplayDeadLetter))
	mux.HandleFunc("GET /api/status", auth(srv.handleStatus))
	mux.HandleFunc("POST /api/notifications/test", auth(srv.handleTestNotification))
	mux.HandleFunc("GET /api/health", srv.handleHealth)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req api.CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	batch, err := s.daemon.pipeline.CreateBatch(r.Context(), req.UserRef)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.BatchResponse{Batch: api.FromBatch(batch)})
}

func (s *apiServer) handleListBatches(w http.ResponseWriter, r *http.Request) {
	var statuses []store.BatchStatus
	for _, value := range r.URL.Query()["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		statuses = append(statuses, store.BatchStatus(trimmed))
	}
	batches, err := s.daemon.pipeline.ListBatches(r.Context(), statuses...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	converted := make([]api.Batch, 0, len(batches))
	for _, batch := range batches {
		converted = append(converted, api.FromBatch(batch))
	}
	s.writeJSON(w, http.StatusOK, api.BatchListResponse{Batches: converted})
}

func (s *apiServer) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	view, err := s.daemon.pipeline.GetBatchView(r.Context(), batchID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	detail := api.BatchDetail{Batch: api.FromBatch(view.Batch)}
	for _, entry := range view.Items {
		itemDetail := api.ItemDetail{Item: api.FromItem(entry.Item)}
		if entry.Proposal != nil {
			proposal := api.FromProposal(entry.Proposal)
			itemDetail.Proposal = &proposal
		}
		detail.Items = append(detail.Items, itemDetail)
	}
	s.writeJSON(w, http.StatusOK, api.BatchDetailResponse{Batch: detail})
}

func (s *apiServer) handleUploadItem(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	item, err := s.daemon.pipeline.AddItem(r.Context(), batchID, header.Filename, file)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.ItemResponse{Item: api.FromItem(item)})
}

func (s *apiServer) handleFinalizeBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	batch, err := s.daemon.pipeline.FinalizeBatch(r.Context(), batchID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.BatchResponse{Batch: api.FromBatch(batch)})
}

func (s *apiServer) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	batch, err := s.daemon.pipeline.CancelBatch(r.Context(), batchID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.BatchResponse{Batch: api.FromBatch(batch)})
}

func (s *apiServer) handleApproveProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req api.ApproveProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.daemon.pipeline.ApproveProposal(r.Context(), proposalID, req.ApprovedBy, req.Corrections.ToStore())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ApprovalResponse{
		Proposal:    api.FromProposal(result.Proposal),
		AllApproved: result.AllApproved,
	})
}

func (s *apiServer) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := s.daemon.pipeline.ListDeadLetters(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	converted := make([]api.DeadLetter, 0, len(letters))
	for _, letter := range letters {
		converted = append(converted, api.FromDeadLetter(letter))
	}
	s.writeJSON(w, http.StatusOK, api.DeadLetterListResponse{DeadLetters: converted})
}

func (s *apiServer) handleReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	job, err := s.daemon.pipeline.ReplayDeadLetter(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ReplayResponse{JobID: job.ID, Kind: job.Kind})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	sent, detail, err := s.daemon.TestNotification(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("%s: %v", detail, err))
		return
	}
	if !sent {
		s.writeError(w, http.StatusBadRequest, detail)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"detail": detail})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{Status: "ok", Vision: "ok"}
	checkCtx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	if err := s.daemon.vision.HealthCheck(checkCtx); err != nil {
		resp.Status = "degraded"
		resp.Vision = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

// writeServiceError maps pipeline error classes onto HTTP statuses.
func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrInvalidState):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", logging.Error(err))
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
