package api

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"hydrosense-cloud/internal/observability/metrics"
	sensors "hydrosense-cloud/internal/sensors/domain"
)

func (s *Server) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	kind, ok := sensors.ParseKind(chi.URLParam(r, "deviceType"))
	if !ok {
		http.Error(w, "unknown device type", http.StatusNotFound)
		return
	}
	format := chi.URLParam(r, "format")

	filter, err := s.historyFilter(r, kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	readings, err := s.sink.Readings(r.Context(), filter)
	if err != nil {
		s.logger.Printf("api: export %s history: %v", kind, err)
		http.Error(w, "query history error", http.StatusInternalServerError)
		return
	}

	started := time.Now()
	var (
		body        []byte
		contentType string
	)
	switch format {
	case "csv":
		body = buildReadingsCSV(readings)
		contentType = "text/csv"
	case "xlsx":
		body, err = buildReadingsXLSX(kind, readings)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		body, err = buildReadingsPDF(kind, readings)
		contentType = "application/pdf"
	default:
		http.Error(w, "format must be csv, xlsx or pdf", http.StatusNotFound)
		return
	}
	if err != nil {
		metrics.ObserveExport(format, "error", time.Since(started))
		s.logger.Printf("api: render %s export: %v", format, err)
		http.Error(w, "render export error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(format, "success", time.Since(started))

	filename := fmt.Sprintf("%s-history.%s", kind, format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	_, _ = w.Write(body)
}

func buildReadingsCSV(readings []sensors.Reading) []byte {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	_ = writer.Write([]string{"device_id", "device_type", "value", "unit", "quality", "timestamp"})
	for _, row := range readings {
		_ = writer.Write([]string{
			row.DeviceID,
			string(row.DeviceType),
			strconv.FormatFloat(row.Value, 'f', -1, 64),
			row.Unit,
			row.Quality,
			row.Timestamp.UTC().Format(timeLayout),
		})
	}
	writer.Flush()
	return buf.Bytes()
}

func buildReadingsXLSX(kind sensors.SensorKind, readings []sensors.Reading) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "readings"
	f.SetSheetName("Sheet1", sheet)

	_ = f.SetCellValue(sheet, "A1", "Device")
	_ = f.SetCellValue(sheet, "B1", "Type")
	_ = f.SetCellValue(sheet, "C1", fmt.Sprintf("Value (%s)", kind.Unit()))
	_ = f.SetCellValue(sheet, "D1", "Quality")
	_ = f.SetCellValue(sheet, "E1", "Timestamp")
	for i, row := range readings {
		line := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", line), row.DeviceID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", line), string(row.DeviceType))
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", line), row.Value)
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", line), row.Quality)
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", line), row.Timestamp.UTC().Format(timeLayout))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildReadingsPDF(kind sensors.SensorKind, readings []sensors.Reading) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Sensor Reading History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Device type: %s (%s)", kind, kind.Unit()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Readings: %d", len(readings)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(35, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Value", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Quality", "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 6, "Timestamp", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, row := range readings {
		pdf.CellFormat(35, 6, row.DeviceID, "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, strconv.FormatFloat(row.Value, 'f', -1, 64), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, row.Quality, "1", 0, "C", false, 0, "")
		pdf.CellFormat(60, 6, row.Timestamp.UTC().Format(timeLayout), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
