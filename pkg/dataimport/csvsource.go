package dataimport

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const DefaultEncoding = "UTF-8"

type CSVSource struct {
	Path      string
	Delimiter rune
	Encoding  string
}

func NewCSVSource(path string, delimiter rune, enc string) *CSVSource {
	if delimiter == 0 {
		delimiter = ','
	}
	if enc == "" {
		enc = DefaultEncoding
	}
	return &CSVSource{Path: path, Delimiter: delimiter, Encoding: enc}
}

func (s *CSVSource) Name() string {
	return filepath.Base(s.Path)
}

func isUTF8(name string) bool {
	n := strings.ToLower(strings.ReplaceAll(name, "-", ""))
	return n == "utf8"
}

func (s *CSVSource) decoder() (transform.Transformer, error) {
	if isUTF8(s.Encoding) {
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), nil
	}
	enc, err := ianaindex.IANA.Encoding(s.Encoding)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %q", s.Encoding)
	}
	if enc == nil {
		return nil, errors.Errorf("encoding %q is not supported", s.Encoding)
	}
	return enc.NewDecoder(), nil
}

func (s *CSVSource) open() (*os.File, *csv.Reader, error) {
	dec, err := s.decoder()
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s", s.Path)
	}
	r := csv.NewReader(transform.NewReader(f, dec))
	r.Comma = s.Delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return f, r, nil
}

func (s *CSVSource) Columns(_ context.Context) ([]string, error) {
	f, r, err := s.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, missingHeader(s.Name())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read header of %s", s.Name())
	}
	header = normalizeHeader(header)
	if blank(header) {
		return nil, missingHeader(s.Name())
	}
	return header, nil
}

func (s *CSVSource) Rows(ctx context.Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		f, r, err := s.open()
		if err != nil {
			yield(Row{}, err)
			return
		}
		defer f.Close()

		header, err := r.Read()
		if err != nil || blank(header) {
			yield(Row{}, missingHeader(s.Name()))
			return
		}
		header = normalizeHeader(header)

		for {
			if err := ctx.Err(); err != nil {
				yield(Row{}, err)
				return
			}
			record, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var perr *csv.ParseError
				line := 0
				if errors.As(err, &perr) {
					line = perr.StartLine
				}
				yield(Row{}, &ImportError{
					Violation: Violation{Line: line, Code: CodeInvalidValue, Info: "malformed csv"},
					Cause:     err,
				})
				return
			}
			if blank(record) {
				continue
			}
			line, _ := r.FieldPos(0)
			if !yield(Row{Line: line, Values: rowValues(header, record)}, nil) {
				return
			}
		}
	}
}

// CheckEncoding reads the whole file and reports a line 0 violation when it
// does not decode with the declared encoding.
func (s *CSVSource) CheckEncoding(_ context.Context) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return errors.Wrapf(err, "open %s", s.Path)
	}
	defer f.Close()

	if isUTF8(s.Encoding) {
		br := bufio.NewReader(f)
		offset := 0
		for {
			line, err := br.ReadBytes('\n')
			if len(line) > 0 && !utf8.Valid(line) {
				return NewImportError(0, CodeWrongEncoding, "", fmt.Sprintf("%s: invalid byte sequence near offset %d", s.Encoding, offset))
			}
			offset += len(line)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return errors.Wrapf(err, "read %s", s.Path)
			}
		}
	}

	dec, err := s.decoder()
	if err != nil {
		return &ImportError{Violation: Violation{Code: CodeWrongEncoding, Info: s.Encoding}, Cause: err}
	}
	data, err := io.ReadAll(transform.NewReader(f, dec))
	if err != nil {
		return &ImportError{Violation: Violation{Code: CodeWrongEncoding, Info: s.Encoding}, Cause: err}
	}
	if !utf8.Valid(data) || strings.ContainsRune(string(data), utf8.RuneError) {
		return NewImportError(0, CodeWrongEncoding, "", s.Encoding)
	}
	return nil
}
