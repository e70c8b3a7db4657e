package leaderboard

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/tier"
)

const exportSheet = "Leaderboard"

var exportHeader = []any{"Rank", "User ID", "Username", "Points", "Tier", "Progress %"}

// Export writes the full leaderboard as an xlsx workbook to w. Pages are
// read MaxLimit at a time, so a write landing mid-export can shift later
// ranks by one.
func (v *View) Export(ctx context.Context, w io.Writer) (int, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return 0, fmt.Errorf("name sheet: %w", err)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return 0, fmt.Errorf("create header style: %w", err)
	}
	if err := f.SetCellStyle(exportSheet, "A1", "F1", bold); err != nil {
		return 0, fmt.Errorf("style header: %w", err)
	}
	if err := f.SetColWidth(exportSheet, "B", "C", 24); err != nil {
		return 0, fmt.Errorf("set column width: %w", err)
	}

	rows := 0
	for offset := 0; ; offset += MaxLimit {
		page, err := v.Page(ctx, MaxLimit, offset)
		if err != nil {
			return rows, err
		}
		for _, e := range page.Entries {
			rows++
			cell, err := excelize.CoordinatesToCellName(1, rows+1)
			if err != nil {
				return rows, err
			}
			if err := f.SetSheetRow(exportSheet, cell, exportRow(e)); err != nil {
				return rows, fmt.Errorf("write row %d: %w", rows, err)
			}
		}
		if len(page.Entries) < MaxLimit {
			break
		}
	}

	if err := f.Write(w); err != nil {
		return rows, fmt.Errorf("write workbook: %w", err)
	}
	v.logger.Info("leaderboard exported", "rows", rows)
	return rows, nil
}

func exportRow(e model.LeaderboardEntry) *[]any {
	row := []any{e.Rank, e.UserID, e.Username, e.TotalPoints, string(e.Tier), tier.ProgressFor(e.TotalPoints).Percent}
	return &row
}
