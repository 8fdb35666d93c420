// SPDX-License-Identifier: Apache-2.0

package schema

import "slices"

// ColumnMap is the correspondence between columns of the main table and
// columns of the shadow table. Each main column maps to the identically named
// shadow column if one exists, to the single unmatched shadow column if both
// sides have exactly one unmatched column (a rename), or to nothing (the
// column was dropped).
type ColumnMap struct {
	entries []columnMapping
}

type columnMapping struct {
	main   string
	shadow string
	mapped bool
}

// NewColumnMap computes the mapping from the two ordered column lists. Shadow
// columns left unreferenced are ignored; they must have defaults or allow
// NULL.
func NewColumnMap(mainCols, shadowCols []string) ColumnMap {
	var unmatchedMain []string
	for _, c := range mainCols {
		if !slices.Contains(shadowCols, c) {
			unmatchedMain = append(unmatchedMain, c)
		}
	}
	var unmatchedShadow []string
	for _, c := range shadowCols {
		if !slices.Contains(mainCols, c) {
			unmatchedShadow = append(unmatchedShadow, c)
		}
	}

	entries := make([]columnMapping, 0, len(mainCols))
	for _, mainCol := range mainCols {
		switch {
		case slices.Contains(shadowCols, mainCol):
			entries = append(entries, columnMapping{main: mainCol, shadow: mainCol, mapped: true})
		case len(unmatchedMain) == 1 && len(unmatchedShadow) == 1 && unmatchedMain[0] == mainCol:
			// a single unmatched pair is assumed to be a rename
			entries = append(entries, columnMapping{main: mainCol, shadow: unmatchedShadow[0], mapped: true})
		default:
			entries = append(entries, columnMapping{main: mainCol})
		}
	}

	return ColumnMap{entries: entries}
}

// MainCols returns the main-table columns that have a corresponding shadow
// column, in main-table order.
func (m ColumnMap) MainCols() []string {
	cols := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		if e.mapped {
			cols = append(cols, e.main)
		}
	}
	return cols
}

// ShadowCols returns the shadow-table columns that correspond to main-table
// columns, in main-table order.
func (m ColumnMap) ShadowCols() []string {
	cols := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		if e.mapped {
			cols = append(cols, e.shadow)
		}
	}
	return cols
}
