package server

import (
	"net/http"

	"github.com/callviewhq/callview/internal/stats"
)

// parseWindow resolves the period/start_date/end_date query
// parameters into a date window against the server clock.
func (s *Server) parseWindow(r *http.Request) stats.DateWindow {
	q := r.URL.Query()
	return stats.Window(
		q.Get("period"), q.Get("start_date"), q.Get("end_date"),
		s.now(),
	)
}

func (s *Server) handleListManagers(
	w http.ResponseWriter, r *http.Request,
) {
	managers, err := s.db.ListManagers(r.Context())
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		s.log.WithError(err).Error("listing managers")
		writeError(w, http.StatusInternalServerError,
			"failed to list managers")
		return
	}
	writeJSON(w, http.StatusOK, managers)
}

func (s *Server) handleManagerStats(
	w http.ResponseWriter, r *http.Request,
) {
	ctx := r.Context()
	id := r.PathValue("id")

	manager, err := s.db.GetManager(ctx, id)
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

	analyses, err := s.db.CompletedAnalyses(
		ctx, id, s.parseWindow(r), catalog.CategoryKeys,
	)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		s.log.WithError(err).Error("loading analyses")
		writeError(w, http.StatusInternalServerError,
			"failed to load analyses")
		return
	}

	result := stats.AggregateManager(
		analyses, catalog.CategoryKeys, catalog.CriterionToCategory,
	)
	result.ID = manager.ID
	result.Name = manager.Name
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCompanyStats(
	w http.ResponseWriter, r *http.Request,
) {
	ctx := r.Context()

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

	managers, err := s.db.CompanyAnalyses(
		ctx, s.parseWindow(r), catalog.CategoryKeys,
	)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		s.log.WithError(err).Error("loading company analyses")
		writeError(w, http.StatusInternalServerError,
			"failed to load company analyses")
		return
	}

	writeJSON(w, http.StatusOK, stats.RollupCompany(
		managers, catalog.CategoryKeys, catalog.CriterionToCategory,
	))
}

func (s *Server) handleVolume(
	w http.ResponseWriter, r *http.Request,
) {
	q := r.URL.Query()
	window := stats.VolumeWindow(
		q.Get("period"), q.Get("start_date"), q.Get("end_date"),
		s.now(),
	)

	days, err := s.db.CompletedCallDays(r.Context(), window)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		s.log.WithError(err).Error("loading call days")
		writeError(w, http.StatusInternalServerError,
			"failed to load call volume")
		return
	}
	writeJSON(w, http.StatusOK, stats.VolumeSeries(days))
}
