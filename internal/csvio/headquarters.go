// Package csvio reads headquarters CSV files and writes submission reports.
package csvio

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pavelanni/shoshin/internal/model"
)

// bom is the UTF-8 byte-order mark spreadsheet tools prepend and expect.
const bom = "\ufeff"

// ErrMissingHeader is returned when the CSV header lacks a code or name column.
var ErrMissingHeader = errors.New("CSV header must contain code and name columns")

// ParseHeadquarters reads a headquarters CSV. The header must name a code and
// a name column, in any order; other columns are ignored. Rows missing either
// value are dropped.
func ParseHeadquarters(r io.Reader) ([]model.Headquarters, error) {
	cr := csv.NewReader(skipBOM(r))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrMissingHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	codeCol, nameCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "code":
			codeCol = i
		case "name":
			nameCol = i
		}
	}
	if codeCol < 0 || nameCol < 0 {
		return nil, ErrMissingHeader
	}

	var out []model.Headquarters
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read CSV line %d: %w", line, err)
		}
		if codeCol >= len(rec) || nameCol >= len(rec) {
			slog.Debug("dropping short CSV row", "line", line)
			continue
		}
		code, name := strings.TrimSpace(rec[codeCol]), strings.TrimSpace(rec[nameCol])
		if code == "" || name == "" {
			slog.Debug("dropping incomplete CSV row", "line", line)
			continue
		}
		out = append(out, model.Headquarters{Code: code, Name: name})
	}
	return out, nil
}

func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(bom)); err == nil && string(b) == bom {
		_, _ = br.Discard(len(bom))
	}
	return br
}

// HeadquartersStore is the persistence used by ImportHeadquarters.
type HeadquartersStore interface {
	ListHeadquarters() ([]model.Headquarters, error)
	PutHeadquarters(hqs ...model.Headquarters) error
}

// ImportResult reports what an import changed.
type ImportResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// NoNewData reports whether the import added nothing.
func (r ImportResult) NoNewData() bool { return r.Added == 0 }

// ImportHeadquarters parses r and stores the rows whose code is new. Existing
// codes are never updated; repeated codes within the file keep the first row.
func ImportHeadquarters(s HeadquartersStore, r io.Reader) (ImportResult, error) {
	rows, err := ParseHeadquarters(r)
	if err != nil {
		return ImportResult{}, err
	}
	existing, err := s.ListHeadquarters()
	if err != nil {
		return ImportResult{}, fmt.Errorf("list headquarters: %w", err)
	}
	seen := make(map[string]bool, len(existing)+len(rows))
	for _, hq := range existing {
		seen[hq.Code] = true
	}

	var fresh []model.Headquarters
	var res ImportResult
	for _, hq := range rows {
		if seen[hq.Code] {
			res.Skipped++
			continue
		}
		seen[hq.Code] = true
		fresh = append(fresh, hq)
	}
	if len(fresh) > 0 {
		if err := s.PutHeadquarters(fresh...); err != nil {
			return ImportResult{}, fmt.Errorf("store headquarters: %w", err)
		}
	}
	res.Added = len(fresh)
	slog.Info("imported headquarters", "added", res.Added, "skipped", res.Skipped)
	return res, nil
}
