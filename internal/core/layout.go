package core

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// Layout workbook sheet names.
const (
	LayoutDataSheet   = "Movimentacao"
	LayoutFieldsSheet = "Layout"
)

// LayoutFileName is the download name of the empty layout workbook.
const LayoutFileName = "layout_movimentacao_cadastral.xlsx"

// WriteLayout writes an empty import workbook to w.
//
// The first sheet has one header row with the display name of every field in
// column order, ready to be filled in and imported. The second sheet lists
// position, id, name and description of each field.
func WriteLayout(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", LayoutDataSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, FieldCount)
	for i, def := range fieldTable {
		header[i] = def.DisplayName
	}
	if err := f.SetSheetRow(LayoutDataSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(FieldCount, 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(LayoutDataSheet, "A1", last, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	if err := f.SetPanes(LayoutDataSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.NewSheet(LayoutFieldsSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := f.SetSheetRow(LayoutFieldsSheet, "A1", &[]any{"Posição", "Campo", "Nome", "Descrição"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetCellStyle(LayoutFieldsSheet, "A1", "D1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	for i, def := range fieldTable {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{def.Position, def.ID, def.DisplayName, def.Description}
		if err := f.SetSheetRow(LayoutFieldsSheet, cell, &row); err != nil {
			return fmt.Errorf("write field %s: %w", def.ID, err)
		}
	}
	if err := f.SetColWidth(LayoutFieldsSheet, "D", "D", 80); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
