// Copyright (C) The Warehouse Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package warehouse

import (
	"fmt"
	"sort"
)

// PositivityRow holds one (Subject, CellType, Status) group's
// normalized positivity percentages, aligned with the table's Genes.
type PositivityRow struct {
	Subject  string
	CellType string
	Status   string
	Values   []float64
}

type PositivityTable struct {
	Genes []string
	Rows  []PositivityRow
}

// PositivityCalculator scores, per (Subject, CellType, Status) group,
// each gene's normalized positive-cell percentage: the share of the
// subject/celltype's positive cells contributed by this status,
// multiplied by the within-group positivity rate, times 100. Both
// factors are required; neither alone reproduces the table.
type PositivityCalculator struct {
	Levels Levels
}

func (pc *PositivityCalculator) Calculate(tbl *CellTable, genes []string) (*PositivityTable, error) {
	if len(tbl.Cells) == 0 {
		return nil, fmt.Errorf("empty cell table")
	}
	for i, cm := range tbl.Cells {
		if cm.Subject == "" || cm.CellType == "" || cm.Status == "" {
			return nil, fmt.Errorf("row %d (barcode %q): missing Subject, CellType, or Status", i, cm.Barcode)
		}
	}
	var missing []string
	for _, g := range genes {
		if _, ok := tbl.Expr[g]; !ok {
			missing = append(missing, g)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("cell table is missing %d requested gene columns: %v", len(missing), missing)
	}

	type group struct{ subject, cellType, status string }
	type counts struct {
		totalCells int
		positive   []int // aligned with genes
	}
	byGroup := map[group]*counts{}
	for row, cm := range tbl.Cells {
		k := group{cm.Subject, cm.CellType, cm.Status}
		c := byGroup[k]
		if c == nil {
			c = &counts{positive: make([]int, len(genes))}
			byGroup[k] = c
		}
		c.totalCells++
		for gi, g := range genes {
			if tbl.Expr[g][row] > 0 {
				c.positive[gi]++
			}
		}
	}

	// Collapse across Status: per (Subject, CellType), each gene's
	// total positive-cell count.
	type pair struct{ subject, cellType string }
	totals := map[pair][]int{}
	for k, c := range byGroup {
		p := pair{k.subject, k.cellType}
		t := totals[p]
		if t == nil {
			t = make([]int, len(genes))
			totals[p] = t
		}
		for gi, n := range c.positive {
			t[gi] += n
		}
	}

	keys := make([]group, 0, len(byGroup))
	for k := range byGroup {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].subject != keys[j].subject {
			return keys[i].subject < keys[j].subject
		}
		ri, rj := pc.Levels.cellTypeRank(keys[i].cellType), pc.Levels.cellTypeRank(keys[j].cellType)
		if ri != rj {
			return ri < rj
		}
		if keys[i].cellType != keys[j].cellType {
			return keys[i].cellType < keys[j].cellType
		}
		si, sj := pc.Levels.statusRank(keys[i].status), pc.Levels.statusRank(keys[j].status)
		if si != sj {
			return si < sj
		}
		return keys[i].status < keys[j].status
	})

	ret := &PositivityTable{Genes: append([]string(nil), genes...)}
	for _, k := range keys {
		c := byGroup[k]
		t := totals[pair{k.subject, k.cellType}]
		values := make([]float64, len(genes))
		for gi := range genes {
			if t[gi] == 0 {
				// 0/0 group: no positive cells for this gene
				// anywhere in this subject/celltype.
				continue
			}
			ng := float64(c.positive[gi])
			values[gi] = ng / float64(t[gi]) * (ng / float64(c.totalCells)) * 100
		}
		ret.Rows = append(ret.Rows, PositivityRow{
			Subject:  k.subject,
			CellType: k.cellType,
			Status:   k.status,
			Values:   values,
		})
	}
	return ret, nil
}
