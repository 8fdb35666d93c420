// SPDX-License-Identifier: Apache-2.0

package templates

// SelectBatch is a template for selecting the primary keys of the next batch
// of rows to copy, in key order, starting after the cursor.
const SelectBatch = `SELECT {{ .PrimaryKey | qi }}
  FROM {{ .Table }}
  {{ if .HasLower -}}
  WHERE {{ .PrimaryKey | qi }} > {{ .Lower }}
  {{ end -}}
  ORDER BY {{ .PrimaryKey | qi }} ASC
  LIMIT {{ .BatchSize }}
`

// InsertBatch is a template for copying the batch's key range into the shadow
// table with mapped columns. Rows already written by replay are skipped.
const InsertBatch = `INSERT INTO {{ .ShadowTable }}
  ({{ commaSeparate (quoteIdentifiers .ShadowColumns) }})
  SELECT {{ commaSeparate (quoteIdentifiers .MainColumns) }}
  FROM {{ .Table }}
  WHERE {{ if .HasLower }}{{ .PrimaryKey | qi }} > {{ .Lower }} AND {{ end }}{{ .PrimaryKey | qi }} <= {{ .Upper }}
  ON CONFLICT DO NOTHING
`

// InsertAll is a template for the single-statement backfill of every row.
const InsertAll = `INSERT INTO {{ .ShadowTable }}
  ({{ commaSeparate (quoteIdentifiers .ShadowColumns) }})
  SELECT {{ commaSeparate (quoteIdentifiers .MainColumns) }}
  FROM {{ .Table }}
  ON CONFLICT DO NOTHING
`
