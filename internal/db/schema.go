package db

// SchemaSQL defines the row table. Each record is one spreadsheet-style row
// addressed by sheet name and one-based row index; the record id is derived
// from both so concurrent appends to the same index collide.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS sheet_row SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS sheet ON sheet_row TYPE string;
    DEFINE FIELD IF NOT EXISTS row_index ON sheet_row TYPE int;
    DEFINE FIELD IF NOT EXISTS cells ON sheet_row TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS created ON sheet_row TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated ON sheet_row TYPE datetime VALUE time::now();

    DEFINE INDEX IF NOT EXISTS sheet_row_position ON sheet_row FIELDS sheet, row_index UNIQUE;
`
