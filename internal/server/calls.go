package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/callviewhq/callview/internal/db"
	"github.com/callviewhq/callview/internal/metrics"
	"github.com/callviewhq/callview/internal/stats"
)

// audioExts are the accepted recording formats.
var audioExts = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".ogg": true,
}

type uploadRequest struct {
	managerID string
	file      multipart.File
	ext       string
}

// parseUploadRequest extracts and validates the manager ID and the
// multipart audio file. The caller must close req.file when done.
func parseUploadRequest(r *http.Request) (*uploadRequest, string) {
	managerID := strings.TrimSpace(r.URL.Query().Get("manager_id"))
	if managerID == "" {
		return nil, "manager_id required"
	}
	if !isSafeName(managerID) {
		return nil, "invalid manager_id"
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "file field required"
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !audioExts[ext] {
		file.Close()
		return nil, "unsupported audio format"
	}

	return &uploadRequest{
		managerID: managerID,
		file:      file,
		ext:       ext,
	}, ""
}

// saveUpload writes the audio to <uploads>/<manager>/<call id><ext>
// and returns the path relative to the uploads root, as stored in
// the calls table.
func (s *Server) saveUpload(
	managerID, callID, ext string, src io.Reader,
) (string, error) {
	dir := filepath.Join(s.cfg.UploadsDir, managerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload directory: %w", err)
	}

	filename := callID + ext
	dest, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return "", fmt.Errorf("saving uploaded file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return "", fmt.Errorf("writing uploaded file: %w", err)
	}
	return managerID + "/" + filename, nil
}

func (s *Server) handleUploadCall(
	w http.ResponseWriter, r *http.Request,
) {
	ctx := r.Context()

	req, errMsg := parseUploadRequest(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	defer req.file.Close()

	manager, err := s.db.GetManager(ctx, req.managerID)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		s.log.WithError(err).Error("loading manager")
		writeError(w, http.StatusInternalServerError,
			"failed to load manager")
		return
	}
	if manager == nil {
		writeError(w, http.StatusNotFound, "manager not found")
		return
	}

	callID := uuid.New().String()
	filename, err := s.saveUpload(
		req.managerID, callID, req.ext, req.file,
	)
	if err != nil {
		s.log.WithError(err).Error("saving upload")
		writeError(w, http.StatusInternalServerError,
			"failed to save upload")
		return
	}

	if err := s.db.InsertCall(ctx, db.Call{
		ID:         callID,
		ManagerID:  req.managerID,
		Filename:   filename,
		Status:     db.StatusUploaded,
		UploadDate: db.UploadStamp(s.now()),
	}); err != nil {
		s.log.WithError(err).Error("inserting call")
		writeError(w, http.StatusInternalServerError,
			"failed to register call")
		return
	}
	metrics.CallsUploaded.Inc()

	if err := s.jobs.Enqueue(callID, false); err != nil {
		s.log.WithError(err).Error("enqueueing call")
		writeError(w, http.StatusServiceUnavailable,
			"pipeline unavailable, try again later")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     callID,
		"status": db.StatusUploaded,
	})
}

func (s *Server) handleCallAnalysis(
	w http.ResponseWriter, r *http.Request,
) {
	ctx := r.Context()
	id := r.PathValue("id")

	call, err := s.db.GetCall(ctx, id)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		s.log.WithError(err).Error("loading call")
		writeError(w, http.StatusInternalServerError,
			"failed to load call")
		return
	}
	if call == nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if call.Status != db.StatusCompleted {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "analysis not ready",
			"status": call.Status,
		})
		return
	}

	row, segments, found, err := s.db.GetAnalysisRow(ctx, id)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		s.log.WithError(err).Error("loading analysis")
		writeError(w, http.StatusInternalServerError,
			"failed to load analysis")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}

	catalog, err := s.db.LoadCatalog(ctx)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		s.log.WithError(err).Error("loading catalog")
		writeError(w, http.StatusInternalServerError,
			"failed to load catalog")
		return
	}

	writeJSON(w, http.StatusOK, stats.CallStatsFor(
		row, stats.ParseSegments(segments), catalog.CategoryKeys,
	))
}

func (s *Server) handleCancelCall(
	w http.ResponseWriter, r *http.Request,
) {
	id := r.PathValue("id")
	if err := s.jobs.Cancel(r.Context(), id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": db.StatusCancelled,
	})
}

func (s *Server) handleRetryCall(
	w http.ResponseWriter, r *http.Request,
) {
	ctx := r.Context()
	id := r.PathValue("id")

	call, err := s.db.GetCall(ctx, id)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		s.log.WithError(err).Error("loading call")
		writeError(w, http.StatusInternalServerError,
			"failed to load call")
		return
	}
	if call == nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if call.Status == db.StatusProcessing ||
		call.Status == db.StatusUploaded {
		writeError(w, http.StatusConflict, "call is already in progress")
		return
	}

	if err := s.db.SetCallStatus(
		ctx, id, db.StatusUploaded, "",
	); err != nil {
		s.log.WithError(err).Error("resetting call status")
		writeError(w, http.StatusInternalServerError,
			"failed to reset call")
		return
	}
	if err := s.jobs.Enqueue(id, true); err != nil {
		s.log.WithError(err).Error("enqueueing retry")
		writeError(w, http.StatusServiceUnavailable,
			"pipeline unavailable, try again later")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": db.StatusUploaded,
	})
}

// isSafeName rejects names containing path separators, "..",
// or starting with "." to prevent directory traversal.
func isSafeName(name string) bool {
	if name == "" {
		return false
	}
	if strings.ContainsAny(name, "/\\") {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	return true
}
