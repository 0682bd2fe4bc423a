// Copyright (C) The Warehouse Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package warehouse

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// DefaultStatusLevels is the canonical Status ordering. Raw labels
// are coerced onto these three levels by NormalizeStatus.
var DefaultStatusLevels = []string{"Prior", "Lesion", "Post"}

// NormalizeStatus maps raw status tokens from the source object onto
// the canonical levels. Unrecognized tokens pass through unchanged.
func NormalizeStatus(raw string) string {
	switch raw {
	case "Entry":
		return "Prior"
	case "8WPH":
		return "Post"
	}
	return raw
}

// splitSample derives (Subject, normalized status token) from an
// orig.ident value like "S1_Entry". A sample with no separator has an
// empty status token.
func splitSample(sample string) (subject, status string) {
	i := strings.Index(sample, "_")
	if i < 0 {
		return sample, ""
	}
	return sample[:i], NormalizeStatus(sample[i+1:])
}

// Levels is the explicit ordering configuration for categorical
// columns. CellTypes comes from the source clustering (the blob's
// CellTypeLevels); Statuses is normally DefaultStatusLevels.
type Levels struct {
	CellTypes []string
	Statuses  []string
}

func (lv Levels) statusRank(status string) int {
	for i, s := range lv.Statuses {
		if s == status {
			return i
		}
	}
	return len(lv.Statuses)
}

func (lv Levels) cellTypeRank(ct string) int {
	for i, c := range lv.CellTypes {
		if c == ct {
			return i
		}
	}
	return len(lv.CellTypes)
}

// orderSamples sorts sample identifiers by their subject prefix, then
// by status rank. Samples whose status token matches no configured
// level sort after all matched ones, keeping their input order.
func (lv Levels) orderSamples(samples []string) []string {
	out := append([]string(nil), samples...)
	sort.SliceStable(out, func(i, j int) bool {
		si, ti := splitSample(out[i])
		sj, tj := splitSample(out[j])
		if si != sj {
			return si < sj
		}
		return lv.statusRank(ti) < lv.statusRank(tj)
	})
	return out
}

type SubjectStatusCount struct {
	Subject string
	Status  string
	N       int
}

type ClusterSampleRow struct {
	Sample     string
	Subject    string
	Status     string
	CellType   string
	N          int
	Percentage float64
}

type ClusterStatusRow struct {
	CellType   string
	Status     string
	N          int
	Percentage float64
	Avg        float64
}

// StatSummarizer computes the three aggregate summary tables from
// per-cell metadata alone.
type StatSummarizer struct {
	Levels Levels
}

// SummarizePerSubjectStatus counts cells per (Subject, Status).
func (s *StatSummarizer) SummarizePerSubjectStatus(cells []CellMeta) []SubjectStatusCount {
	type key struct{ subject, status string }
	n := map[key]int{}
	for _, cm := range cells {
		n[key{cm.Subject, NormalizeStatus(cm.Status)}]++
	}
	keys := make([]key, 0, len(n))
	for k := range n {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].subject != keys[j].subject {
			return keys[i].subject < keys[j].subject
		}
		ri, rj := s.Levels.statusRank(keys[i].status), s.Levels.statusRank(keys[j].status)
		if ri != rj {
			return ri < rj
		}
		// Distinct unconfigured statuses share a rank; break the
		// tie lexically so map iteration order cannot leak into
		// the output.
		return keys[i].status < keys[j].status
	})
	ret := make([]SubjectStatusCount, 0, len(keys))
	for _, k := range keys {
		ret = append(ret, SubjectStatusCount{Subject: k.subject, Status: k.status, N: n[k]})
	}
	return ret
}

// SummarizeClusterPerSample counts cells per (CellType, Sample),
// derives Subject and Status from the sample identifier, and computes
// each cell type's percentage of its sample's total.
func (s *StatSummarizer) SummarizeClusterPerSample(cells []CellMeta) []ClusterSampleRow {
	type key struct{ cellType, sample string }
	n := map[key]int{}
	sampleSeen := map[string]bool{}
	var samples []string
	for _, cm := range cells {
		n[key{cm.CellType, cm.Sample}]++
		if !sampleSeen[cm.Sample] {
			sampleSeen[cm.Sample] = true
			samples = append(samples, cm.Sample)
		}
	}
	samples = s.Levels.orderSamples(samples)

	totals := map[string]float64{}
	for _, sample := range samples {
		var counts []float64
		for k, c := range n {
			if k.sample == sample {
				counts = append(counts, float64(c))
			}
		}
		totals[sample] = floats.Sum(counts)
	}

	var ret []ClusterSampleRow
	for _, sample := range samples {
		subject, status := splitSample(sample)
		var cts []string
		for k := range n {
			if k.sample == sample {
				cts = append(cts, k.cellType)
			}
		}
		sort.SliceStable(cts, func(i, j int) bool {
			ri, rj := s.Levels.cellTypeRank(cts[i]), s.Levels.cellTypeRank(cts[j])
			if ri != rj {
				return ri < rj
			}
			return cts[i] < cts[j]
		})
		for _, ct := range cts {
			c := n[key{ct, sample}]
			ret = append(ret, ClusterSampleRow{
				Sample:     sample,
				Subject:    subject,
				Status:     status,
				CellType:   ct,
				N:          c,
				Percentage: float64(c) / totals[sample] * 100,
			})
		}
	}
	return ret
}

// SummarizeClusterPerStatus counts cells per (CellType, Status),
// computes each cell type's percentage of its status's total, and the
// average count per subject observed under that status. The
// distinct-subject denominator is computed over the full cell
// collection before grouping.
func (s *StatSummarizer) SummarizeClusterPerStatus(cells []CellMeta) []ClusterStatusRow {
	subjects := map[string]map[string]bool{}
	for _, cm := range cells {
		status := NormalizeStatus(cm.Status)
		if subjects[status] == nil {
			subjects[status] = map[string]bool{}
		}
		subjects[status][cm.Subject] = true
	}

	type key struct{ cellType, status string }
	n := map[key]int{}
	for _, cm := range cells {
		n[key{cm.CellType, NormalizeStatus(cm.Status)}]++
	}
	totals := map[string]float64{}
	for status := range subjects {
		var counts []float64
		for k, c := range n {
			if k.status == status {
				counts = append(counts, float64(c))
			}
		}
		totals[status] = floats.Sum(counts)
	}

	keys := make([]key, 0, len(n))
	for k := range n {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		ri, rj := s.Levels.cellTypeRank(keys[i].cellType), s.Levels.cellTypeRank(keys[j].cellType)
		if ri != rj {
			return ri < rj
		}
		if keys[i].cellType != keys[j].cellType {
			return keys[i].cellType < keys[j].cellType
		}
		si, sj := s.Levels.statusRank(keys[i].status), s.Levels.statusRank(keys[j].status)
		if si != sj {
			return si < sj
		}
		return keys[i].status < keys[j].status
	})
	ret := make([]ClusterStatusRow, 0, len(keys))
	for _, k := range keys {
		c := n[k]
		avg := 0.0
		if nsub := len(subjects[k.status]); nsub > 0 {
			avg = float64(c) / float64(nsub)
		}
		ret = append(ret, ClusterStatusRow{
			CellType:   k.cellType,
			Status:     k.status,
			N:          c,
			Percentage: float64(c) / totals[k.status] * 100,
			Avg:        avg,
		})
	}
	return ret
}
