package dataimport

import (
	"context"
	"iter"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/xuri/excelize/v2"
)

// XLSXSource reads one sheet of a workbook; without Sheet it reads the first one.
type XLSXSource struct {
	Path  string
	Sheet string
}

func NewXLSXSource(path, sheet string) *XLSXSource {
	return &XLSXSource{Path: path, Sheet: sheet}
}

func (s *XLSXSource) Name() string {
	return filepath.Base(s.Path)
}

func (s *XLSXSource) open() (*excelize.File, *excelize.Rows, error) {
	f, err := excelize.OpenFile(s.Path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open workbook %s", s.Path)
	}
	sheet := s.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if sheet == "" {
		_ = f.Close()
		return nil, nil, missingHeader(s.Name())
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		_ = f.Close()
		return nil, nil, errors.Wrapf(err, "sheet %q of %s", sheet, s.Name())
	}
	return f, rows, nil
}

func (s *XLSXSource) Columns(_ context.Context) ([]string, error) {
	f, rows, err := s.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	defer rows.Close()

	if !rows.Next() {
		return nil, missingHeader(s.Name())
	}
	header, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrapf(err, "read header of %s", s.Name())
	}
	header = normalizeHeader(header)
	if blank(header) {
		return nil, missingHeader(s.Name())
	}
	return header, nil
}

func (s *XLSXSource) Rows(ctx context.Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		f, rows, err := s.open()
		if err != nil {
			yield(Row{}, err)
			return
		}
		defer f.Close()
		defer rows.Close()

		if !rows.Next() {
			yield(Row{}, missingHeader(s.Name()))
			return
		}
		header, err := rows.Columns()
		if err != nil || blank(header) {
			yield(Row{}, missingHeader(s.Name()))
			return
		}
		header = normalizeHeader(header)

		line := 1
		for rows.Next() {
			line++
			if err := ctx.Err(); err != nil {
				yield(Row{}, err)
				return
			}
			values, err := rows.Columns()
			if err != nil {
				yield(Row{}, &ImportError{Violation: Violation{Line: line, Code: CodeInvalidValue}, Cause: err})
				return
			}
			if blank(values) {
				continue
			}
			if !yield(Row{Line: line, Values: rowValues(header, values)}, nil) {
				return
			}
		}
		if err := rows.Error(); err != nil {
			yield(Row{}, errors.Wrapf(err, "read %s", s.Name()))
		}
	}
}
