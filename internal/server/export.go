package server

import (
	"fmt"
	"net/http"

	"github.com/callviewhq/callview/internal/export"
	"github.com/callviewhq/callview/internal/stats"
)

// handleExportManagers streams the company rollup as an XLSX
// workbook. Served outside the timeout middleware so the download
// is never buffered.
func (s *Server) handleExportManagers(
	w http.ResponseWriter, r *http.Request,
) {
	ctx := r.Context()

	catalog, err := s.db.LoadCatalog(ctx)
	if err != nil {
		s.log.WithError(err).Error("loading catalog")
		writeError(w, http.StatusInternalServerError,
			"failed to load catalog")
		return
	}

	managers, err := s.db.CompanyAnalyses(
		ctx, s.parseWindow(r), catalog.CategoryKeys,
	)
	if err != nil {
		s.log.WithError(err).Error("loading company analyses")
		writeError(w, http.StatusInternalServerError,
			"failed to load company analyses")
		return
	}

	company := stats.RollupCompany(
		managers, catalog.CategoryKeys, catalog.CriterionToCategory,
	)
	f, err := export.ManagerWorkbook(company, catalog.CategoryKeys)
	if err != nil {
		s.log.WithError(err).Error("building workbook")
		writeError(w, http.StatusInternalServerError,
			"failed to build export")
		return
	}
	defer f.Close()

	filename := fmt.Sprintf(
		"managers-%s.xlsx", s.now().UTC().Format("2006-01-02"),
	)
	w.Header().Set("Content-Type",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filename))

	if err := f.Write(w); err != nil {
		// Headers are already sent; all we can do is log.
		s.log.WithError(err).Warn("streaming export")
	}
}
