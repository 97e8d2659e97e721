package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/simon020286/nightly/logger"
	"github.com/simon020286/nightly/models"
)

const shutdownTimeout = 10 * time.Second

// DispatchResponse is the body of an accepted dispatch
type DispatchResponse struct {
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow"`
	Ref      string `json:"ref"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler serves manual dispatch:
//
//	POST /dispatch/{workflow}?ref=<ref>   -> 202 with the run id
//	GET  /healthz                         -> 200
func NewHandler(d Dispatcher, defaultRef string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /dispatch/{workflow}", func(w http.ResponseWriter, r *http.Request) {
		t := ManualDispatch(r.PathValue("workflow"), r.URL.Query().Get("ref"), defaultRef)

		runID, err := d.Submit(t)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, models.ErrWorkflowNotFound):
				status = http.StatusNotFound
			case errors.Is(err, models.ErrDispatchNotAllowed):
				status = http.StatusForbidden
			}
			logger.Warn("dispatch rejected", "workflow", t.Workflow, "status", status, "error", err)
			writeJSON(w, status, errorResponse{Error: err.Error()})
			return
		}

		logger.Info("dispatch accepted", "workflow", t.Workflow, "ref", t.Ref, "run_id", runID)
		writeJSON(w, http.StatusAccepted, DispatchResponse{RunID: runID, Workflow: t.Workflow, Ref: t.Ref})
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debug("failed to write response", "error", err)
	}
}

// ListenAndServe serves h on addr until ctx is cancelled
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
