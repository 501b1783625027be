package handlers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf/v2"

	"medication-reminder/internal/history"
	"medication-reminder/internal/medication"
)

// ExportData represents the data structure for exports
type ExportData struct {
	StartDate   time.Time
	EndDate     time.Time
	Medications []ExportMedication
}

// ExportMedication is one medication's section in a report.
type ExportMedication struct {
	EntityID string
	Name     string
	Dose     string
	Times    []string
	Counts   history.Counts
	Events   []history.Event
}

// parseRange reads start_date and end_date query parameters, defaulting
// to the last 30 days.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	start := time.Now().AddDate(0, 0, -30)
	end := time.Now()

	if raw := r.URL.Query().Get("start_date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date format, use YYYY-MM-DD")
		}
		start = parsed
	}
	if raw := r.URL.Query().Get("end_date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date format, use YYYY-MM-DD")
		}
		// Include the whole end day.
		end = parsed.AddDate(0, 0, 1).Add(-time.Second)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date must be after start_date")
	}
	return start, end, nil
}

// gatherExportData collects per-medication counts and events in range.
func gatherExportData(registry *medication.Registry, h *history.Store, start, end time.Time) *ExportData {
	data := &ExportData{StartDate: start, EndDate: end}

	for _, m := range registry.All() {
		cfg := m.Config()
		entry := ExportMedication{
			EntityID: m.ID(),
			Name:     cfg.Name,
			Dose:     cfg.Dose,
			Times:    cfg.Times,
			Counts:   h.CountsBetween(m.ID(), start, end),
		}
		for _, e := range h.Recent(m.ID(), 0) {
			ts, err := time.Parse(time.RFC3339, e.Timestamp)
			if err != nil || ts.Before(start) || ts.After(end) {
				continue
			}
			entry.Events = append(entry.Events, e)
		}
		data.Medications = append(data.Medications, entry)
	}
	return data
}

// HandleExportPDF generates a PDF adherence report.
func HandleExportPDF(registry *medication.Registry, h *history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, end, err := parseRange(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data := gatherExportData(registry, h, start, end)

		pdfBytes, err := generatePDF(data)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to generate PDF: %v", err), http.StatusInternalServerError)
			return
		}

		filename := fmt.Sprintf("medication-report-%s-to-%s.pdf",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(pdfBytes)))
		w.Write(pdfBytes)
	}
}

func generatePDF(data *ExportData) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Medication Adherence Report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Medication Adherence Report")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 8, fmt.Sprintf("Period: %s to %s",
		data.StartDate.Format("2006-01-02"), data.EndDate.Format("2006-01-02")))
	pdf.Ln(12)

	for _, med := range data.Medications {
		pdf.SetFont("Helvetica", "B", 12)
		title := med.Name
		if med.Dose != "" {
			title += " (" + med.Dose + ")"
		}
		pdf.Cell(0, 8, title)
		pdf.Ln(7)

		pdf.SetFont("Helvetica", "", 10)
		pdf.Cell(0, 6, fmt.Sprintf("Taken: %d   Skipped: %d   Snoozed: %d",
			med.Counts.Taken, med.Counts.Skipped, med.Counts.Snoozed))
		pdf.Ln(8)

		if len(med.Events) > 0 {
			pdf.SetFont("Helvetica", "B", 9)
			pdf.CellFormat(60, 6, "Timestamp", "1", 0, "L", false, 0, "")
			pdf.CellFormat(40, 6, "Status", "1", 0, "L", false, 0, "")
			pdf.Ln(-1)

			pdf.SetFont("Helvetica", "", 9)
			for _, e := range med.Events {
				pdf.CellFormat(60, 6, e.Timestamp, "1", 0, "L", false, 0, "")
				pdf.CellFormat(40, 6, e.Status, "1", 0, "L", false, 0, "")
				pdf.Ln(-1)
			}
		}
		pdf.Ln(6)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HandleExportCSV generates a CSV export of the recorded events in range.
func HandleExportCSV(registry *medication.Registry, h *history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, end, err := parseRange(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data := gatherExportData(registry, h, start, end)

		var csvBuffer bytes.Buffer
		csvWriter := csv.NewWriter(&csvBuffer)

		if err := csvWriter.Write([]string{"entity_id", "medication", "status", "timestamp"}); err != nil {
			http.Error(w, fmt.Sprintf("Failed to generate CSV: %v", err), http.StatusInternalServerError)
			return
		}
		for _, med := range data.Medications {
			for _, e := range med.Events {
				if err := csvWriter.Write([]string{med.EntityID, med.Name, e.Status, e.Timestamp}); err != nil {
					http.Error(w, fmt.Sprintf("Failed to generate CSV: %v", err), http.StatusInternalServerError)
					return
				}
			}
		}

		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			http.Error(w, fmt.Sprintf("Failed to flush CSV writer: %v", err), http.StatusInternalServerError)
			return
		}

		filename := fmt.Sprintf("medication-history-%s-to-%s.csv",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.Header().Set("Content-Length", strconv.Itoa(csvBuffer.Len()))
		w.Write(csvBuffer.Bytes())
	}
}
