// Copyright (C) The Warehouse Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package warehouse

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
)

// CellMeta is one row of per-cell metadata as found in the analysis
// object. Status holds the raw label ("Entry", "Lesion", "8WPH", ...);
// it is normalized by NormalizeStatus when tables are assembled.
type CellMeta struct {
	Barcode  string
	Subject  string
	Status   string
	Sample   string // orig.ident, e.g. "S1_Entry"
	CellType string
}

// EmbeddingData is a named low-dimensional embedding. Columns carries
// the axis names exactly as the source object spells them; Values[i]
// is the per-cell coordinate slice for Columns[i], aligned with the
// dataset's CellMeta order.
type EmbeddingData struct {
	Name    string
	Columns []string
	Values  [][]float64
}

// AssayData is a named expression assay. Values[i] is the per-cell
// value slice for Genes[i], aligned with the dataset's CellMeta order.
type AssayData struct {
	Name   string
	Genes  []string
	Values [][]float64
}

// DatasetEntry is one record of the analysis-object blob: a gob
// stream of these, optionally gzip-compressed. Fields may be spread
// across multiple entries; slices are concatenated in stream order
// and maps are merged (last entry wins per key).
type DatasetEntry struct {
	CellMeta       []CellMeta
	CellTypeLevels []string
	Embeddings     []EmbeddingData
	Assays         []AssayData
	Colors         map[string]string
}

// Dataset is the accessor the rest of the pipeline uses. Nothing
// outside this file inspects the blob's native shape.
type Dataset struct {
	meta       []CellMeta
	levels     []string
	embeddings map[string]*EmbeddingData
	assays     map[string]*AssayData
	colors     map[string]string
}

func (ds *Dataset) Metadata() []CellMeta      { return ds.meta }
func (ds *Dataset) CellTypeLevels() []string  { return ds.levels }
func (ds *Dataset) Colors() map[string]string { return ds.colors }

func (ds *Dataset) Embedding(name string) (*EmbeddingData, bool) {
	e, ok := ds.embeddings[strings.ToLower(name)]
	return e, ok
}

func (ds *Dataset) EmbeddingNames() []string {
	var names []string
	for name := range ds.embeddings {
		names = append(names, name)
	}
	return names
}

func (ds *Dataset) Assay(name string) (*AssayData, bool) {
	a, ok := ds.assays[strings.ToLower(name)]
	return a, ok
}

func (ds *Dataset) AssayNames() []string {
	var names []string
	for name := range ds.assays {
		names = append(names, name)
	}
	return names
}

// GeneValues returns per-cell expression slices for the given genes.
// Genes absent from the assay are simply left out of the returned
// map; the caller decides whether that is a warning or an error.
func (a *AssayData) GeneValues(genes []string) map[string][]float64 {
	idx := make(map[string]int, len(a.Genes))
	for i, g := range a.Genes {
		idx[g] = i
	}
	ret := map[string][]float64{}
	for _, g := range genes {
		if i, ok := idx[g]; ok {
			ret[g] = a.Values[i]
		}
	}
	return ret
}

func (ds *Dataset) add(ent *DatasetEntry) error {
	ds.meta = append(ds.meta, ent.CellMeta...)
	if len(ent.CellTypeLevels) > 0 {
		ds.levels = ent.CellTypeLevels
	}
	for i := range ent.Embeddings {
		e := ent.Embeddings[i]
		ds.embeddings[strings.ToLower(e.Name)] = &e
	}
	for i := range ent.Assays {
		a := ent.Assays[i]
		if len(a.Genes) != len(a.Values) {
			return fmt.Errorf("assay %q: %d genes but %d value rows", a.Name, len(a.Genes), len(a.Values))
		}
		ds.assays[strings.ToLower(a.Name)] = &a
	}
	for k, v := range ent.Colors {
		ds.colors[k] = v
	}
	return nil
}

func (ds *Dataset) check() error {
	if len(ds.meta) == 0 {
		return fmt.Errorf("no cell metadata found in input")
	}
	seen := make(map[string]bool, len(ds.meta))
	for _, cm := range ds.meta {
		if cm.Barcode == "" {
			return fmt.Errorf("cell with empty barcode")
		}
		if seen[cm.Barcode] {
			return fmt.Errorf("duplicate barcode %q", cm.Barcode)
		}
		seen[cm.Barcode] = true
	}
	ncells := len(ds.meta)
	for name, e := range ds.embeddings {
		for i, col := range e.Columns {
			if i >= len(e.Values) || len(e.Values[i]) != ncells {
				return fmt.Errorf("embedding %q column %q: coordinate count does not match %d cells", name, col, ncells)
			}
		}
	}
	for name, a := range ds.assays {
		for i := range a.Values {
			if len(a.Values[i]) != ncells {
				return fmt.Errorf("assay %q gene %q: value count does not match %d cells", name, a.Genes[i], ncells)
			}
		}
	}
	return nil
}

// DecodeDataset reads a gob stream of DatasetEntry records from rdr,
// decompressing with pgzip if gz is true, and calls fn once per
// entry.
func DecodeDataset(rdr io.Reader, gz bool, fn func(*DatasetEntry) error) error {
	if gz {
		zr, err := pgzip.NewReader(bufio.NewReaderSize(rdr, 1<<22))
		if err != nil {
			return err
		}
		defer zr.Close()
		rdr = zr
	}
	dec := gob.NewDecoder(bufio.NewReaderSize(rdr, 1<<22))
	for {
		var ent DatasetEntry
		err := dec.Decode(&ent)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("gob decode: %w", err)
		}
		err = fn(&ent)
		if err != nil {
			return err
		}
	}
}

// LoadDataset reads the analysis-object blob at path (".gob" or
// ".gob.gz") fully into memory and returns the accessor over it.
func LoadDataset(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ds := &Dataset{
		embeddings: map[string]*EmbeddingData{},
		assays:     map[string]*AssayData{},
		colors:     map[string]string{},
	}
	err = DecodeDataset(f, strings.HasSuffix(path, ".gz"), ds.add)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	err = ds.check()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// EncodeDataset writes entries as a gob stream, gzip-compressed if gz
// is true. Fixture writers and upstream converters share this with
// the tests.
func EncodeDataset(w io.Writer, gz bool, ents ...*DatasetEntry) error {
	bufw := bufio.NewWriter(w)
	var out io.Writer = bufw
	var zw *pgzip.Writer
	if gz {
		zw = pgzip.NewWriter(bufw)
		out = zw
	}
	enc := gob.NewEncoder(out)
	for _, ent := range ents {
		err := enc.Encode(ent)
		if err != nil {
			return err
		}
	}
	if zw != nil {
		err := zw.Close()
		if err != nil {
			return err
		}
	}
	return bufw.Flush()
}
