package audit

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"qtable-tenant/internal/domain"
)

// AuditExportHeader 导出表头
var AuditExportHeader = []string{
	"Time",
	"Action",
	"Severity",
	"Tenant ID",
	"Actor User ID",
	"Channel Token",
	"IP Address",
	"Metadata",
}

// exportPageSize 导出分页大小
const exportPageSize = 500

// exportMaxRows 导出行数上限（操作员工具，不是数据迁移工具）
const exportMaxRows = 50000

// Export 按过滤条件导出审计日志为 Excel
func (r *Recorder) Export(ctx context.Context, filter domain.AuditFilters) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	sheetName := "Audit Log"
	f.SetSheetName("Sheet1", sheetName)

	for col, h := range AuditExportHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	row := 2
	for page := 1; ; page++ {
		entries, _, err := r.repo.Query(ctx, filter, page, exportPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to query audit entries for export: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		for _, e := range entries {
			values := []any{
				e.CreatedAt.Format(time.RFC3339),
				e.Action,
				string(e.Severity),
				e.TenantID,
				e.ActorUserID,
				e.ChannelToken,
				e.IPAddress,
				string(e.Metadata),
			}
			for col, v := range values {
				cell, _ := excelize.CoordinatesToCellName(col+1, row)
				if err := f.SetCellValue(sheetName, cell, v); err != nil {
					return nil, fmt.Errorf("failed to write row: %w", err)
				}
			}
			row++
		}

		if row > exportMaxRows {
			break
		}
		if len(entries) < exportPageSize {
			break
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize export: %w", err)
	}
	_ = f.Close()
	return buf.Bytes(), nil
}
