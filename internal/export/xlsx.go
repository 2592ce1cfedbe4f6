package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"atelierdesk/internal/domain"
	"atelierdesk/internal/views"
)

// Columns is the fixed tabular-export column order, one row per order.
var Columns = []string{
	"ID", "Title", "Amount", "Net", "Deadline", "Stage", "Source",
	"Priority", "Persons", "Art Type", "Nature", "Hours", "Notes", "Created",
}

// WriteXLSX writes the full order store as a flat worksheet.
func WriteXLSX(w io.Writer, orders []domain.Order, tax domain.Taxonomy) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for col, name := range Columns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return err
		}
	}
	for i, o := range orders {
		var hours any
		if o.HoursSpent != nil {
			hours = *o.HoursSpent
		}
		values := []any{
			o.ID, o.Title, o.Amount, views.NetAmount(o, tax), o.Deadline,
			o.Stage, o.Source, o.Priority, o.PersonCount, o.ArtType,
			o.Nature, hours, o.Notes, o.CreatedAt,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("write row %d: %w", i+2, err)
			}
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
