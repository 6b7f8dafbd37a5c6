package dataimport

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
)

type Row struct {
	// Line is the 1-based line of the row in the file; the header is line 1.
	Line   int
	Values map[string]string
}

// Source is a lazy, single-pass reader of rows keyed by header column.
// Every Rows call reopens the underlying file.
type Source interface {
	Name() string
	Columns(ctx context.Context) ([]string, error)
	Rows(ctx context.Context) iter.Seq2[Row, error]
}

// EncodingChecker is implemented by sources that can verify their declared encoding.
type EncodingChecker interface {
	CheckEncoding(ctx context.Context) error
}

type SourceOptions struct {
	Delimiter rune
	Encoding  string
	Sheet     string
}

// OpenSource picks a source implementation by file extension.
func OpenSource(path string, opts SourceOptions) (Source, error) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrFileNotFound, path)
		}
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if st.IsDir() {
		return nil, errors.Wrapf(ErrFileNotFound, "%s is a directory", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt", "":
		return NewCSVSource(path, opts.Delimiter, opts.Encoding), nil
	case ".xlsx":
		return NewXLSXSource(path, opts.Sheet), nil
	default:
		return nil, errors.Wrap(ErrUnknownFormat, filepath.Ext(path))
	}
}

func normalizeHeader(columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		c = strings.TrimPrefix(c, "\ufeff")
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func blank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func rowValues(header, values []string) map[string]string {
	m := make(map[string]string, len(header))
	for i, h := range header {
		if h == "" {
			continue
		}
		if i < len(values) {
			m[h] = values[i]
		} else {
			m[h] = ""
		}
	}
	return m
}

func missingHeader(name string) error {
	return NewImportError(1, CodeMissingHeader, "", name)
}
