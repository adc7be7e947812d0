package core

import (
	"io"

	"github.com/samber/lo"
)

// DefaultPreviewRows is the number of sample records in an ImportPreview.
const DefaultPreviewRows = 10

// ImportPreview summarises what importing a file would produce, without
// touching any workspace.
type ImportPreview struct {
	FileName   string   `json:"fileName"`
	TotalRows  int      `json:"totalRows"`
	MaxColumns int      `json:"maxColumns"`
	Ignored    int      `json:"ignoredColumns"` // cells beyond the last field, in the widest row
	Strategy   Strategy `json:"strategy"`
	Sample     []Record `json:"sample"`
	// InvalidCPFRows lists 1-based data rows whose CPF would fail validation.
	InvalidCPFRows []int     `json:"invalidCpfRows"`
	Warnings       []Warning `json:"warnings,omitempty"`
}

// PreviewImport reads a spreadsheet the same way StartImport does and
// decodes it, returning the first sample rows and the CPF problems of all rows.
func (s *Service) PreviewImport(fileName string, r io.Reader, sample int) (*ImportPreview, error) {
	if sample <= 0 {
		sample = DefaultPreviewRows
	}

	rows, err := ReadRows(fileName, r, s.cfg.MaxImportSize)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Clock()
	records := lo.Map(rows, func(row []string, i int) Record {
		return DecodeRow(row, i, now)
	})

	store := NewRecordStore(WithMinRows(0), WithStoreClock(s.cfg.Clock))
	warnings := store.Load(records)

	widest := lo.Max(lo.Map(rows, func(row []string, _ int) int { return len(row) }))
	all := store.Records()

	return &ImportPreview{
		FileName:       fileName,
		TotalRows:      len(rows),
		MaxColumns:     widest,
		Ignored:        max(widest-FieldCount, 0),
		Strategy:       NewPipeline(WithParallelThreshold(s.cfg.ParallelThreshold)).StrategyFor(len(rows)),
		Sample:         all[:min(sample, len(all))],
		InvalidCPFRows: store.InvalidCPFRows(),
		Warnings:       warnings,
	}, nil
}
