// Copyright (C) The Warehouse Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package warehouse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// writeFileAtomic writes through fn into a private temp file in path's
// directory, then renames it into place. Readers never observe a
// partial file, and concurrent writers of the same path cannot
// truncate each other's output: each gets its own temp file and the
// last rename wins whole.
func writeFileAtomic(path string, fn func(io.Writer) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	bufw := bufio.NewWriter(f)
	err = fn(bufw)
	if err == nil {
		err = bufw.Flush()
	}
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	err = f.Close()
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", path, err)
	}
	err = os.Rename(tmp, path)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

type colKind int

const (
	colString colKind = iota
	colInt
	colFloat
)

type column struct {
	name string
	kind colKind
}

// writeParquet writes rows to a parquet file at path. The schema is
// built at runtime because the gene columns are only known per run.
// Values must match their column kind: string, int64, or float64.
func writeParquet(path string, cols []column, rows [][]interface{}) error {
	md := make([]string, len(cols))
	for i, c := range cols {
		switch c.kind {
		case colString:
			md[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY", c.name)
		case colInt:
			md[i] = fmt.Sprintf("name=%s, type=INT64", c.name)
		case colFloat:
			md[i] = fmt.Sprintf("name=%s, type=DOUBLE", c.name)
		}
	}
	// The parquet writer needs a path, not an io.Writer, so the
	// temp-and-rename dance is spelled out here instead of going
	// through writeFileAtomic.
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	f.Close()
	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	pw, err := writer.NewCSVWriter(md, fw, 1)
	if err != nil {
		fw.Close()
		os.Remove(tmp)
		return fmt.Errorf("%s: %w", path, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, rec := range rows {
		err = pw.Write(rec)
		if err != nil {
			fw.Close()
			os.Remove(tmp)
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	err = pw.WriteStop()
	if err != nil {
		fw.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	err = fw.Close()
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", path, err)
	}
	err = os.Rename(tmp, path)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	log.Infof("wrote %d rows to %s", len(rows), path)
	return nil
}

func writeSubjectStatusStats(path string, rows []SubjectStatusCount) error {
	cols := []column{{"Subject", colString}, {"Status", colString}, {"n", colInt}}
	recs := make([][]interface{}, len(rows))
	for i, r := range rows {
		recs[i] = []interface{}{r.Subject, r.Status, int64(r.N)}
	}
	return writeParquet(path, cols, recs)
}

func writeClusterSampleStats(path string, rows []ClusterSampleRow) error {
	cols := []column{
		{"Sample", colString}, {"Subject", colString}, {"Status", colString},
		{"CellType", colString}, {"n", colInt}, {"Percentage", colFloat},
	}
	recs := make([][]interface{}, len(rows))
	for i, r := range rows {
		recs[i] = []interface{}{r.Sample, r.Subject, r.Status, r.CellType, int64(r.N), r.Percentage}
	}
	return writeParquet(path, cols, recs)
}

func writeClusterStatusStats(path string, rows []ClusterStatusRow) error {
	cols := []column{
		{"CellType", colString}, {"Status", colString},
		{"n", colInt}, {"Percentage", colFloat}, {"Avg", colFloat},
	}
	recs := make([][]interface{}, len(rows))
	for i, r := range rows {
		recs[i] = []interface{}{r.CellType, r.Status, int64(r.N), r.Percentage, r.Avg}
	}
	return writeParquet(path, cols, recs)
}

// writeCellTable writes the combined per-cell table. withGenes=false
// produces the slimmer umap_data artifact the dashboard uses for its
// dropdown options.
func writeCellTable(path string, tbl *CellTable, withGenes bool) error {
	cols := []column{
		{"Barcode", colString}, {"Subject", colString}, {"Status", colString},
		{"Sample", colString}, {"CellType", colString},
		{"UMAP_1", colFloat}, {"UMAP_2", colFloat},
	}
	genes := tbl.Genes
	if !withGenes {
		genes = nil
	}
	for _, g := range genes {
		cols = append(cols, column{g, colFloat})
	}
	recs := make([][]interface{}, len(tbl.Cells))
	for i, cm := range tbl.Cells {
		rec := make([]interface{}, 0, len(cols))
		rec = append(rec, cm.Barcode, cm.Subject, cm.Status, cm.Sample, cm.CellType, tbl.UMAP1[i], tbl.UMAP2[i])
		for _, g := range genes {
			rec = append(rec, tbl.Expr[g][i])
		}
		recs[i] = rec
	}
	return writeParquet(path, cols, recs)
}

func writePositivityTable(path string, pt *PositivityTable) error {
	cols := []column{{"Subject", colString}, {"CellType", colString}, {"Status", colString}}
	for _, g := range pt.Genes {
		cols = append(cols, column{g, colFloat})
	}
	recs := make([][]interface{}, len(pt.Rows))
	for i, row := range pt.Rows {
		rec := make([]interface{}, 0, len(cols))
		rec = append(rec, row.Subject, row.CellType, row.Status)
		for _, v := range row.Values {
			rec = append(rec, v)
		}
		recs[i] = rec
	}
	return writeParquet(path, cols, recs)
}

func writeJSON(path string, v interface{}) error {
	err := writeFileAtomic(path, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(v)
	})
	if err != nil {
		return err
	}
	log.Infof("wrote %s", path)
	return nil
}

// writeExpressionMatrix writes the exported genes as a cells×genes
// float64 npy matrix, column order matching tbl.Genes.
func writeExpressionMatrix(path string, tbl *CellTable) error {
	rows, cols := len(tbl.Cells), len(tbl.Genes)
	data := make([]float64, rows*cols)
	for gi, g := range tbl.Genes {
		for i, v := range tbl.Expr[g] {
			data[i*cols+gi] = v
		}
	}
	err := writeFileAtomic(path, func(w io.Writer) error {
		npw, err := gonpy.NewWriter(nopCloser{w})
		if err != nil {
			return err
		}
		npw.Shape = []int{rows, cols}
		return npw.WriteFloat64(data)
	})
	if err != nil {
		return err
	}
	log.Infof("wrote %d×%d matrix to %s", rows, cols, path)
	return nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
