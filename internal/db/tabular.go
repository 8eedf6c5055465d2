package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/assetcheck/internal/remote"
)

// HeaderRow is reserved for column headers; appends start below it.
const HeaderRow = 1

const maxAppendAttempts = 3

type sheetRow struct {
	RowIndex int      `json:"row_index"`
	Cells    []string `json:"cells"`
}

var _ remote.TabularStore = (*Client)(nil)

// rowKey is the record id for a sheet position.
func rowKey(sheet string, index int) string {
	return sheet + ":" + strconv.Itoa(index)
}

// Get returns the rows of rng. Like the spreadsheet API, gaps between
// stored rows come back as empty rows and rows past the last stored one are
// omitted.
func (c *Client) Get(ctx context.Context, rng string) ([][]string, error) {
	r, err := remote.ParseRange(rng)
	if err != nil {
		return nil, err
	}

	clauses := []string{"sheet = $sheet"}
	vars := map[string]any{"sheet": r.Sheet}
	if r.StartRow > 0 {
		clauses = append(clauses, "row_index >= $start")
		vars["start"] = r.StartRow
	}
	if r.EndRow > 0 {
		clauses = append(clauses, "row_index <= $end")
		vars["end"] = r.EndRow
	}
	sql := fmt.Sprintf(
		"SELECT row_index, cells FROM sheet_row WHERE %s ORDER BY row_index",
		strings.Join(clauses, " AND "),
	)

	results, err := surrealdb.Query[[]sheetRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rng, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return [][]string{}, nil
	}
	return assembleRows(r, (*results)[0].Result), nil
}

// assembleRows lays stored rows out densely from the range start.
func assembleRows(r remote.Range, stored []sheetRow) [][]string {
	first := max(r.StartRow, 1)
	out := [][]string{}
	for _, row := range stored {
		if !r.ContainsRow(row.RowIndex) || row.RowIndex < first {
			continue
		}
		for len(out) < row.RowIndex-first {
			out = append(out, []string{})
		}
		out = append(out, r.Clip(row.Cells))
	}
	return out
}

// Append writes rows after the last stored row of the range's sheet. Two
// writers racing for the same index collide on the record id; the loser
// re-reads the tail and tries again.
func (c *Client) Append(ctx context.Context, rng string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	r, err := remote.ParseRange(rng)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		last, err := c.lastRow(ctx, r.Sheet)
		if err != nil {
			return fmt.Errorf("append %s: %w", rng, err)
		}
		err = c.insertRows(ctx, r, max(last, HeaderRow)+1, rows)
		if err == nil {
			c.logger.Debug("rows appended", "sheet", r.Sheet, "count", len(rows), "first_row", max(last, HeaderRow)+1)
			return nil
		}
		if !isConflict(err) || attempt >= maxAppendAttempts {
			return fmt.Errorf("append %s: %w", rng, err)
		}
		c.logger.Debug("append conflict, retrying", "sheet", r.Sheet, "attempt", attempt)
	}
}

func (c *Client) lastRow(ctx context.Context, sheet string) (int, error) {
	results, err := surrealdb.Query[[]int](ctx, c.db,
		`SELECT VALUE row_index FROM sheet_row WHERE sheet = $sheet ORDER BY row_index DESC LIMIT 1`,
		map[string]any{"sheet": sheet})
	if err != nil {
		return 0, wrapQueryError(err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0], nil
}

func (c *Client) insertRows(ctx context.Context, r remote.Range, first int, rows [][]string) error {
	var sql strings.Builder
	vars := map[string]any{"sheet": r.Sheet}
	sql.WriteString("BEGIN TRANSACTION;\n")
	for i, row := range rows {
		idx := first + i
		fmt.Fprintf(&sql, "CREATE type::record(\"sheet_row\", $id%d) CONTENT { sheet: $sheet, row_index: $idx%d, cells: $cells%d };\n", i, i, i)
		vars["id"+strconv.Itoa(i)] = rowKey(r.Sheet, idx)
		vars["idx"+strconv.Itoa(i)] = idx
		vars["cells"+strconv.Itoa(i)] = place(nil, r.StartCol, row)
	}
	sql.WriteString("COMMIT TRANSACTION;")

	if _, err := surrealdb.Query[any](ctx, c.db, sql.String(), vars); err != nil {
		return wrapQueryError(err)
	}
	return nil
}

// Update overwrites the cells of rng row by row, creating missing rows.
// Cells outside the range keep their values.
func (c *Client) Update(ctx context.Context, rng string, rows [][]string) error {
	r, err := remote.ParseRange(rng)
	if err != nil {
		return err
	}
	start := max(r.StartRow, 1)
	for i, row := range rows {
		idx := start + i
		if r.EndRow > 0 && idx > r.EndRow {
			break
		}
		existing, err := c.rowCells(ctx, r.Sheet, idx)
		if err != nil {
			return fmt.Errorf("update %s: %w", rng, err)
		}
		_, err = surrealdb.Query[any](ctx, c.db, `
			UPSERT type::record("sheet_row", $id) CONTENT { sheet: $sheet, row_index: $idx, cells: $cells }
		`, map[string]any{
			"id":    rowKey(r.Sheet, idx),
			"sheet": r.Sheet,
			"idx":   idx,
			"cells": place(existing, r.StartCol, row),
		})
		if err != nil {
			return fmt.Errorf("update %s: %w", rng, wrapQueryError(err))
		}
	}
	return nil
}

func (c *Client) rowCells(ctx context.Context, sheet string, idx int) ([]string, error) {
	results, err := surrealdb.Query[[]sheetRow](ctx, c.db,
		`SELECT row_index, cells FROM type::record("sheet_row", $id)`,
		map[string]any{"id": rowKey(sheet, idx)})
	if err != nil {
		return nil, wrapQueryError(err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return (*results)[0].Result[0].Cells, nil
}

// place writes values into base starting at column col, padding with empty cells.
func place(base []string, col int, values []string) []string {
	need := col + len(values)
	out := make([]string, max(len(base), need))
	copy(out, base)
	copy(out[col:], values)
	return out
}
