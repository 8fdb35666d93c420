// SPDX-License-Identifier: Apache-2.0

package templates

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/lib/pq"
)

// BatchConfig parameterises the backfill statements. Table and ShadowTable
// are pre-quoted qualified names; column and key names are quoted by the
// templates.
type BatchConfig struct {
	Table         string
	ShadowTable   string
	PrimaryKey    string
	MainColumns   []string
	ShadowColumns []string
	BatchSize     int
	HasLower      bool
	Lower         int64
	Upper         int64
}

func BuildSelectBatch(cfg BatchConfig) (string, error) {
	return executeTemplate("select_batch", SelectBatch, cfg)
}

func BuildInsertBatch(cfg BatchConfig) (string, error) {
	return executeTemplate("insert_batch", InsertBatch, cfg)
}

func BuildInsertAll(cfg BatchConfig) (string, error) {
	return executeTemplate("insert_all", InsertAll, cfg)
}

func executeTemplate(name, content string, cfg any) (string, error) {
	qi := pq.QuoteIdentifier

	tmpl := template.Must(template.New(name).
		Funcs(template.FuncMap{
			"qi": qi,
			"commaSeparate": func(slice []string) string {
				return strings.Join(slice, ", ")
			},
			"quoteIdentifiers": func(slice []string) []string {
				quoted := make([]string, len(slice))
				for i, s := range slice {
					quoted[i] = qi(s)
				}
				return quoted
			},
		}).
		Parse(content))

	buf := bytes.Buffer{}
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return "", err
	}
	return buf.String(), nil
}
