package remote

import (
	"fmt"
	"strconv"
	"strings"
)

// Range is a parsed A1-style range. Columns are zero-based; rows are
// one-based with 0 meaning unbounded.
type Range struct {
	Sheet    string
	StartCol int
	EndCol   int // -1 when unbounded
	StartRow int
	EndRow   int
}

// ParseRange parses ranges such as "Assets!A2:Z", "TestResults!A:Q" or "Sheet1".
func ParseRange(s string) (Range, error) {
	sheet, cells, hasCells := strings.Cut(s, "!")
	sheet = strings.Trim(strings.TrimSpace(sheet), "'")
	if sheet == "" {
		return Range{}, fmt.Errorf("parse range %q: missing sheet", s)
	}
	r := Range{Sheet: sheet, EndCol: -1}
	if !hasCells || strings.TrimSpace(cells) == "" {
		return r, nil
	}

	start, end, hasEnd := strings.Cut(cells, ":")
	var err error
	if r.StartCol, r.StartRow, err = parseCell(start); err != nil {
		return Range{}, fmt.Errorf("parse range %q: %w", s, err)
	}
	if r.StartCol < 0 {
		r.StartCol = 0
	}
	if !hasEnd {
		r.EndCol, r.EndRow = r.StartCol, r.StartRow
		return r, nil
	}
	if r.EndCol, r.EndRow, err = parseCell(end); err != nil {
		return Range{}, fmt.Errorf("parse range %q: %w", s, err)
	}
	return r, nil
}

// parseCell splits "AB12" into column 27 and row 12. Missing parts are -1 and 0.
func parseCell(s string) (col, row int, err error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	i := 0
	col = -1
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		if col < 0 {
			col = 0
		}
		col = col*26 + int(s[i]-'A'+1)
		i++
	}
	if col > 0 {
		col--
	}
	if i < len(s) {
		row, err = strconv.Atoi(s[i:])
		if err != nil || row < 1 {
			return 0, 0, fmt.Errorf("bad cell %q", s)
		}
	}
	if col < 0 && row == 0 {
		return 0, 0, fmt.Errorf("bad cell %q", s)
	}
	return col, row, nil
}

// Clip trims a row to the range columns.
func (r Range) Clip(row []string) []string {
	if r.StartCol >= len(row) {
		return []string{}
	}
	end := len(row)
	if r.EndCol >= 0 && r.EndCol+1 < end {
		end = r.EndCol + 1
	}
	return row[r.StartCol:end]
}

// ContainsRow reports whether the one-based row number lies inside the range.
func (r Range) ContainsRow(n int) bool {
	if r.StartRow > 0 && n < r.StartRow {
		return false
	}
	if r.EndRow > 0 && n > r.EndRow {
		return false
	}
	return true
}

// ColumnName converts a zero-based column index to letters (0 = A, 26 = AA).
func ColumnName(col int) string {
	name := ""
	for col >= 0 {
		name = string(rune('A'+col%26)) + name
		col = col/26 - 1
	}
	return name
}
