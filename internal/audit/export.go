package audit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/BradenHooton/aegis/internal/models"
)

// ExportSheet is the worksheet holding exported audit logs
const ExportSheet = "Audit Logs"

var exportHeaders = []interface{}{
	"ID", "User ID", "Session ID", "Action", "Resource", "Result",
	"Risk Level", "IP Address", "User Agent", "Location", "Timestamp",
}

// ExportAuditLogs writes the logs matching filter to w as an XLSX workbook and returns the
// row count. The export is itself recorded as a sensitive operation by userID.
func (l *Logger) ExportAuditLogs(ctx context.Context, w io.Writer, filter models.AuditLogFilter, userID string, client RequestInfo) (int, error) {
	logs, err := l.GetAuditLogs(ctx, filter)
	if err == nil {
		err = writeWorkbook(w, logs)
	}

	l.LogSensitiveOperation(ctx, SensitiveOperation{
		UserID:    userID,
		Operation: models.AuditActionDataExport,
		Resource:  models.AuditResourceAudit,
		Success:   err == nil,
		Metadata:  models.Metadata{"rows": len(logs), "format": "xlsx"},
		Client:    client,
		EventType: models.EventDataExport,
	})

	if err != nil {
		return 0, err
	}
	return len(logs), nil
}

func writeWorkbook(w io.Writer, logs []*models.SecurityAuditLog) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(ExportSheet)
	if err != nil {
		return fmt.Errorf("new sheet: %w", err)
	}
	f.SetActiveSheet(index)

	if err := f.SetSheetRow(ExportSheet, "A1", &exportHeaders); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, log := range logs {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{
			log.ID, log.UserID, log.SessionID, log.Action, log.Resource, string(log.Result),
			string(log.RiskLevel), log.IPAddress, log.UserAgent, log.Location,
			log.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := f.SetSheetRow(ExportSheet, cell, &row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	for i := range exportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(ExportSheet, col, col, 18)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err == nil {
		last, _ := excelize.ColumnNumberToName(len(exportHeaders))
		f.SetCellStyle(ExportSheet, "A1", last+"1", headerStyle)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
