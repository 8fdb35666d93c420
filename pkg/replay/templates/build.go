// SPDX-License-Identifier: Apache-2.0

// Package templates builds the PL/pgSQL and DDL used by trigger capture.
package templates

import (
	"bytes"
	"text/template"

	"github.com/lib/pq"
)

// TriggerConfig parameterises a single capture trigger. Table, LogTable and
// Function are pre-quoted qualified names; Trigger and PrimaryKey are quoted
// by the template.
type TriggerConfig struct {
	Table      string
	LogTable   string
	Function   string
	Trigger    string
	PrimaryKey string
	Op         string
	RowVar     string
}

// DropConfig parameterises capture teardown.
type DropConfig struct {
	Table     string
	LogTable  string
	Triggers  []string
	Functions []string
}

// LogTableConfig parameterises log table creation.
type LogTableConfig struct {
	Table    string
	LogTable string
}

func BuildCreateLogTable(cfg LogTableConfig) (string, error) {
	return executeTemplate("create_log_table", CreateLogTable, cfg)
}

func BuildLogTrigger(cfg TriggerConfig) (string, error) {
	return executeTemplate("log_trigger", LogTrigger, cfg)
}

func BuildDropCapture(cfg DropConfig) (string, error) {
	return executeTemplate("drop_capture", DropCapture, cfg)
}

func executeTemplate(name, content string, cfg any) (string, error) {
	tmpl := template.Must(template.New(name).
		Funcs(template.FuncMap{
			"qi": pq.QuoteIdentifier,
		}).
		Parse(content))

	buf := bytes.Buffer{}
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return "", err
	}
	return buf.String(), nil
}
