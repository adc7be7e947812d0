package core

// source.go turns an uploaded spreadsheet into raw rows for the pipeline.
//
// Workbooks (.xlsx, .xlsm) are read with excelize from their first sheet
// using formatted cell values. CSV is parsed with encoding/csv after BOM and
// UTF-8 cleanup, with the delimiter sniffed from the first line since
// spreadsheet exports in pt-BR locales use ';'. In both cases blank rows are
// dropped and the first remaining row is treated as the header.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"
)

// DefaultMaxImportSize caps uploads at 50MB.
const DefaultMaxImportSize int64 = 50 * 1024 * 1024

// SupportedExtensions lists the accepted upload extensions.
var SupportedExtensions = []string{".csv", ".xlsx", ".xlsm"}

// IsSupportedFile reports whether fileName has an accepted extension.
func IsSupportedFile(fileName string) bool {
	return lo.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(fileName)))
}

// ReadRows reads the data rows of an uploaded spreadsheet, without the
// header row. maxBytes <= 0 disables the size cap.
func ReadRows(fileName string, r io.Reader, maxBytes int64) ([][]string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == ".xls" {
		return nil, &ImportFormatError{FileName: fileName, Reason: "legacy .xls workbooks are not supported, save the file as .xlsx"}
	}
	if !IsSupportedFile(fileName) {
		return nil, &ImportFormatError{FileName: fileName, Reason: "expected a .csv, .xlsx or .xlsm file"}
	}

	r = CapSize(r, maxBytes)

	var (
		rows [][]string
		err  error
	)
	if ext == ".csv" {
		rows, err = readCSV(r)
	} else {
		rows, err = readWorkbook(r)
	}
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, err
		}
		return nil, &ImportFormatError{FileName: fileName, Reason: err.Error()}
	}

	rows = lo.Reject(rows, func(row []string, _ int) bool { return isBlankRow(row) })
	if len(rows) == 0 {
		return [][]string{}, nil
	}
	return rows[1:], nil
}

func readWorkbook(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(WrapForCSV(r))
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = sniffDelimiter(data)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return rows, nil
}

// sniffDelimiter picks ';' when the first line has more semicolons than
// commas, ',' otherwise.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}

func isBlankRow(row []string) bool {
	return lo.EveryBy(row, func(cell string) bool { return strings.TrimSpace(cell) == "" })
}
