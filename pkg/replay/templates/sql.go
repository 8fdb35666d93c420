// SPDX-License-Identifier: Apache-2.0

package templates

// CreateLogTable is a template for the trigger-capture sink. The log rows
// carry a serial sequence, the operation kind, a timestamp and the primary
// key of the affected row; the remaining LIKE-inherited columns are unused.
const CreateLogTable = `CREATE TABLE IF NOT EXISTS {{ .LogTable }} (
  seq BIGSERIAL PRIMARY KEY,
  op TEXT,
  ts TIMESTAMPTZ DEFAULT NOW(),
  LIKE {{ .Table }}
)`

// LogTrigger is a template for one capture trigger and its function. The
// function records the operation kind and the affected row's primary key.
// seq is drawn when the trigger fires, so log rows are ordered by the time
// they were written; for concurrent transactions this need not be their
// commit order.
const LogTrigger = `CREATE OR REPLACE FUNCTION {{ .Function }}() RETURNS trigger AS $$
BEGIN
  INSERT INTO {{ .LogTable }} (op, {{ .PrimaryKey | qi }}) VALUES ('{{ .Op }}', {{ .RowVar }}.{{ .PrimaryKey | qi }});
  RETURN {{ .RowVar }};
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS {{ .Trigger | qi }} ON {{ .Table }};
CREATE TRIGGER {{ .Trigger | qi }}
  AFTER {{ .Op }} ON {{ .Table }}
  FOR EACH ROW EXECUTE FUNCTION {{ .Function }}()`

// DropCapture is a template removing the triggers, their functions and the
// log table.
const DropCapture = `{{ range .Triggers -}}
DROP TRIGGER IF EXISTS {{ . | qi }} ON {{ $.Table }};
{{ end -}}
{{ range .Functions -}}
DROP FUNCTION IF EXISTS {{ . }}();
{{ end -}}
DROP TABLE IF EXISTS {{ .LogTable }}`
