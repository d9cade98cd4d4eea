package handler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"

	"github.com/carcrashlawyerai/backend/internal/report"
)

// incidentRunner is the slice of the pipeline this handler needs.
type incidentRunner interface {
	ProcessIncident(ctx context.Context, docID string) (*report.Result, error)
}

// ReportHandler triggers the report pipeline for one document on demand and
// renders the outcome as an HTML fragment.
type ReportHandler struct {
	pipeline incidentRunner
	logger   *slog.Logger
}

func NewReportHandler(pipeline incidentRunner, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{pipeline: pipeline, logger: logger}
}

func (h *ReportHandler) Generate(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("docId")
	if docID == "" {
		writeFragment(w, http.StatusBadRequest, `<p class="error">Missing document id.</p>`)
		return
	}

	result, err := h.pipeline.ProcessIncident(r.Context(), docID)
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			writeFragment(w, http.StatusNotFound, `<p class="error">No report found for that reference.</p>`)
			return
		}
		h.logger.Warn("on-demand report failed", "doc_id", docID, "error", err)
		writeFragment(w, http.StatusBadGateway,
			fmt.Sprintf(`<p class="error">Report generation failed: %s</p>`, html.EscapeString(err.Error())))
		return
	}

	fragment := fmt.Sprintf(
		`<div class="report-ready"><p>Your report has been emailed to %s.</p><p><a href="%s">Download PDF</a></p>`,
		html.EscapeString(result.Recipient), html.EscapeString(result.PDFURL))
	if result.BackupLink != "" {
		fragment += fmt.Sprintf(`<p><a href="%s">Backup copy</a></p>`, html.EscapeString(result.BackupLink))
	}
	fragment += `</div>`

	writeFragment(w, http.StatusOK, fragment)
}

func writeFragment(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}
