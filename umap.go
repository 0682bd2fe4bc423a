// Copyright (C) The Warehouse Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package warehouse

import (
	"fmt"
	"regexp"
)

// Source objects spell the embedding axes several ways (umap1,
// UMAP_1, Umap.2, ...). ExtractUMAP maps them onto the canonical
// UMAP_1 / UMAP_2 columns.
var (
	umapAxis1Re = regexp.MustCompile(`(?i)^umap[_. ]?1$`)
	umapAxis2Re = regexp.MustCompile(`(?i)^umap[_. ]?2$`)
)

// ExtractUMAP locates the two coordinate axes in emb by
// case-insensitive pattern match and returns them in canonical order.
// An axis with no matching source column is an error, not a silent
// drop.
func ExtractUMAP(emb *EmbeddingData) (x, y []float64, err error) {
	for i, col := range emb.Columns {
		switch {
		case umapAxis1Re.MatchString(col):
			x = emb.Values[i]
		case umapAxis2Re.MatchString(col):
			y = emb.Values[i]
		}
	}
	if x == nil {
		return nil, nil, fmt.Errorf("embedding %q: no column matches UMAP_1; have %v", emb.Name, emb.Columns)
	}
	if y == nil {
		return nil, nil, fmt.Errorf("embedding %q: no column matches UMAP_2; have %v", emb.Name, emb.Columns)
	}
	return x, y, nil
}

// CellTable is the combined per-cell table: metadata, canonical
// embedding coordinates, and one expression column per gene. Status
// is normalized. All slices are row-aligned with Cells.
type CellTable struct {
	Cells []CellMeta
	UMAP1 []float64
	UMAP2 []float64
	Genes []string
	Expr  map[string][]float64
}

// BuildCellTable joins metadata, coordinates, and expression columns
// into one row per cell. The inputs are row-aligned on cell identity
// by the loader; mismatched lengths mean the blob is malformed.
func BuildCellTable(meta []CellMeta, x, y []float64, genes []string, expr map[string][]float64) (*CellTable, error) {
	if len(x) != len(meta) || len(y) != len(meta) {
		return nil, fmt.Errorf("coordinate rows (%d, %d) do not match %d metadata rows", len(x), len(y), len(meta))
	}
	for _, g := range genes {
		if len(expr[g]) != len(meta) {
			return nil, fmt.Errorf("gene %q: %d expression rows do not match %d metadata rows", g, len(expr[g]), len(meta))
		}
	}
	cells := make([]CellMeta, len(meta))
	for i, cm := range meta {
		cm.Status = NormalizeStatus(cm.Status)
		cells[i] = cm
	}
	return &CellTable{
		Cells: cells,
		UMAP1: x,
		UMAP2: y,
		Genes: append([]string(nil), genes...),
		Expr:  expr,
	}, nil
}
