// SPDX-License-Identifier: Apache-2.0

package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jamatthews/pgost/pkg/schema"
)

func TestNewColumnMap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		Name       string
		MainCols   []string
		ShadowCols []string
		WantMain   []string
		WantShadow []string
	}{
		{
			Name:       "identical column lists map every column to itself",
			MainCols:   []string{"id", "assertable", "target"},
			ShadowCols: []string{"id", "assertable", "target"},
			WantMain:   []string{"id", "assertable", "target"},
			WantShadow: []string{"id", "assertable", "target"},
		},
		{
			Name:       "added shadow column is ignored",
			MainCols:   []string{"id", "assertable"},
			ShadowCols: []string{"id", "assertable", "bar"},
			WantMain:   []string{"id", "assertable"},
			WantShadow: []string{"id", "assertable"},
		},
		{
			Name:       "dropped column maps to nothing",
			MainCols:   []string{"id", "assertable", "target"},
			ShadowCols: []string{"id", "assertable"},
			WantMain:   []string{"id", "assertable"},
			WantShadow: []string{"id", "assertable"},
		},
		{
			Name:       "single unmatched pair is a rename",
			MainCols:   []string{"id", "assertable", "target"},
			ShadowCols: []string{"id", "assertable", "something_else"},
			WantMain:   []string{"id", "assertable", "target"},
			WantShadow: []string{"id", "assertable", "something_else"},
		},
		{
			Name:       "multiple unmatched main columns are dropped, not renamed",
			MainCols:   []string{"id", "a", "b"},
			ShadowCols: []string{"id", "c"},
			WantMain:   []string{"id"},
			WantShadow: []string{"id"},
		},
		{
			Name:       "rename is position independent",
			MainCols:   []string{"target", "id"},
			ShadowCols: []string{"id", "something_else"},
			WantMain:   []string{"target", "id"},
			WantShadow: []string{"something_else", "id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			m := schema.NewColumnMap(tt.MainCols, tt.ShadowCols)

			assert.Equal(t, tt.WantMain, m.MainCols())
			assert.Equal(t, tt.WantShadow, m.ShadowCols())
			assert.Len(t, m.ShadowCols(), len(m.MainCols()))
		})
	}
}

func TestNewTable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, schema.Table{Name: "foo"}, schema.NewTable("foo"))
	assert.Equal(t, schema.Table{Schema: "post_migrations", Name: "foo"}, schema.NewTable("post_migrations.foo"))
	assert.Equal(t, "public", schema.NewTable("foo").SchemaOrDefault())
	assert.Equal(t, `"post_migrations"."foo"`, schema.NewTable("post_migrations.foo").Quoted())
	assert.Equal(t, `"foo"`, schema.NewTable("foo").Quoted())
}
