// Copyright (C) The Warehouse Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package warehouse

import (
	"math"

	"gopkg.in/check.v1"
)

type summarySuite struct{}

var _ = check.Suite(&summarySuite{})

var testLevels = Levels{
	CellTypes: []string{"X", "Y", "Z"},
	Statuses:  DefaultStatusLevels,
}

// summaryCells is a small but uneven fixture: two subjects, three
// statuses (raw labels), three cell types, lopsided counts.
func summaryCells() []CellMeta {
	var cells []CellMeta
	add := func(n int, subject, rawStatus, cellType string) {
		for i := 0; i < n; i++ {
			cells = append(cells, CellMeta{
				Barcode:  subject + rawStatus + cellType + string(rune('a'+i)),
				Subject:  subject,
				Status:   rawStatus,
				Sample:   subject + "_" + rawStatus,
				CellType: cellType,
			})
		}
	}
	add(5, "S1", "Entry", "X")
	add(3, "S1", "Entry", "Y")
	add(2, "S1", "Lesion", "X")
	add(4, "S1", "8WPH", "Z")
	add(6, "S2", "Lesion", "Y")
	add(1, "S2", "8WPH", "X")
	return cells
}

func (s *summarySuite) TestPerSubjectStatus(c *check.C) {
	sum := &StatSummarizer{Levels: testLevels}
	got := sum.SummarizePerSubjectStatus(summaryCells())
	c.Check(got, check.DeepEquals, []SubjectStatusCount{
		{"S1", "Prior", 8},
		{"S1", "Lesion", 2},
		{"S1", "Post", 4},
		{"S2", "Lesion", 6},
		{"S2", "Post", 1},
	})
}

func (s *summarySuite) TestClusterPerSamplePercentagesSum(c *check.C) {
	sum := &StatSummarizer{Levels: testLevels}
	rows := sum.SummarizeClusterPerSample(summaryCells())

	pct := map[string]float64{}
	n := map[string]int{}
	for _, r := range rows {
		pct[r.Sample] += r.Percentage
		n[r.Sample] += r.N
	}
	c.Check(n, check.DeepEquals, map[string]int{
		"S1_Entry": 8, "S1_Lesion": 2, "S1_8WPH": 4, "S2_Lesion": 6, "S2_8WPH": 1,
	})
	for sample, p := range pct {
		c.Check(math.Abs(p-100) < 1e-9, check.Equals, true, check.Commentf("sample %s: Σ%%=%v", sample, p))
	}
}

func (s *summarySuite) TestClusterPerSampleDerivedColumns(c *check.C) {
	sum := &StatSummarizer{Levels: testLevels}
	rows := sum.SummarizeClusterPerSample(summaryCells())

	c.Assert(len(rows) > 0, check.Equals, true)
	// First sample block: S1_Entry, status token mapped to Prior,
	// cell types in level order.
	c.Check(rows[0], check.DeepEquals, ClusterSampleRow{
		Sample: "S1_Entry", Subject: "S1", Status: "Prior", CellType: "X",
		N: 5, Percentage: 62.5,
	})
	c.Check(rows[1].CellType, check.Equals, "Y")
	for _, r := range rows {
		if r.Sample == "S2_8WPH" {
			c.Check(r.Status, check.Equals, "Post")
			c.Check(r.Subject, check.Equals, "S2")
		}
	}
}

func (s *summarySuite) TestSampleOrdering(c *check.C) {
	got := testLevels.orderSamples([]string{"S2_Lesion", "S1_8WPH", "S1_Entry"})
	c.Check(got, check.DeepEquals, []string{"S1_Entry", "S1_8WPH", "S2_Lesion"})

	// Unmatched status tokens sort after matched ones, stably.
	got = testLevels.orderSamples([]string{"S1_Weird", "S1_Odd", "S1_Lesion"})
	c.Check(got, check.DeepEquals, []string{"S1_Lesion", "S1_Weird", "S1_Odd"})
}

func (s *summarySuite) TestClusterPerStatus(c *check.C) {
	sum := &StatSummarizer{Levels: testLevels}
	rows := sum.SummarizeClusterPerStatus(summaryCells())

	n := map[string]int{}
	for _, r := range rows {
		n[r.Status] += r.N
	}
	c.Check(n, check.DeepEquals, map[string]int{"Prior": 8, "Lesion": 8, "Post": 5})

	// Distinct-subject denominators: Prior has 1 subject (S1),
	// Lesion and Post have 2 each.
	for _, r := range rows {
		switch {
		case r.CellType == "X" && r.Status == "Prior":
			c.Check(r.Avg, check.Equals, 5.0)
			c.Check(r.Percentage, check.Equals, 62.5)
		case r.CellType == "Y" && r.Status == "Lesion":
			c.Check(r.Avg, check.Equals, 3.0)
			c.Check(r.Percentage, check.Equals, 75.0)
		case r.CellType == "Z" && r.Status == "Post":
			c.Check(r.Avg, check.Equals, 2.0)
			c.Check(r.Percentage, check.Equals, 80.0)
		}
	}
}

func (s *summarySuite) TestUnconfiguredStatusesSortLexically(c *check.C) {
	var cells []CellMeta
	for i, status := range []string{"Weird", "Odd", "Lesion", "Weird"} {
		cells = append(cells, CellMeta{
			Barcode:  "bc" + string(rune('a'+i)),
			Subject:  "S1",
			Status:   status,
			Sample:   "S1_" + status,
			CellType: "X",
		})
	}
	sum := &StatSummarizer{Levels: testLevels}
	c.Check(sum.SummarizePerSubjectStatus(cells), check.DeepEquals, []SubjectStatusCount{
		{"S1", "Lesion", 1},
		{"S1", "Odd", 1},
		{"S1", "Weird", 2},
	})
	var order []string
	for _, r := range sum.SummarizeClusterPerStatus(cells) {
		order = append(order, r.Status)
	}
	c.Check(order, check.DeepEquals, []string{"Lesion", "Odd", "Weird"})
}

func (s *summarySuite) TestNormalizeStatus(c *check.C) {
	c.Check(NormalizeStatus("Entry"), check.Equals, "Prior")
	c.Check(NormalizeStatus("8WPH"), check.Equals, "Post")
	c.Check(NormalizeStatus("Lesion"), check.Equals, "Lesion")
	c.Check(NormalizeStatus("Relapse"), check.Equals, "Relapse")
}
