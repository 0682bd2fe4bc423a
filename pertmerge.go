// Copyright (C) The Warehouse Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package warehouse

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

// pertmerge folds accumulated timestamped pert tables (written by
// on-demand precompute runs) back into each prefix's core table. Gene
// columns the core does not have yet are joined on (Subject, CellType,
// Status); merged extension files are deleted so they never pile up.
type pertmerge struct{}

func (cmd *pertmerge) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	warehouseDir := flags.String("warehouse", "./DataWarehouse", "warehouse `directory` holding the Pert tables")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	pertDir := filepath.Join(*warehouseDir, "Pert")
	prefixes := flags.Args()
	if len(prefixes) == 0 {
		prefixes, err = discoverPertPrefixes(pertDir)
		if err != nil {
			return 1
		}
		if len(prefixes) == 0 {
			err = fmt.Errorf("%s: no core pert tables found", pertDir)
			return 1
		}
	}

	failed := 0
	for _, prefix := range prefixes {
		mergeErr := mergePertExtensions(pertDir, prefix)
		if mergeErr != nil {
			log.Errorf("%s: %s", prefix, mergeErr)
			failed++
		}
	}
	if failed > 0 {
		err = fmt.Errorf("%d of %d prefixes failed", failed, len(prefixes))
		return 1
	}
	return 0
}

// discoverPertPrefixes lists the prefixes that have a core pert table.
func discoverPertPrefixes(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*_pert_core.parquet"))
	if err != nil {
		return nil, err
	}
	var prefixes []string
	for _, m := range matches {
		prefixes = append(prefixes, strings.TrimSuffix(filepath.Base(m), "_pert_core.parquet"))
	}
	sort.Strings(prefixes)
	return prefixes, nil
}

// mergePertExtensions merges one prefix's extension tables into its
// core table. Extensions contributing no new gene columns are deleted
// without rewriting the core; unreadable extensions are logged and
// left in place for inspection.
func mergePertExtensions(dir, prefix string) error {
	corePath := filepath.Join(dir, prefix+"_pert_core.parquet")
	if _, err := os.Stat(corePath); err != nil {
		log.Warnf("%s: no core pert table, skipping: %s", prefix, err)
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"_pert_*.parquet"))
	if err != nil {
		return err
	}
	var extFiles []string
	for _, m := range matches {
		if m != corePath {
			extFiles = append(extFiles, m)
		}
	}
	sort.Strings(extFiles)
	if len(extFiles) == 0 {
		log.Infof("%s: no extension pert tables", prefix)
		return nil
	}

	core, err := readPositivityTable(corePath)
	if err != nil {
		return err
	}
	type group struct{ subject, cellType, status string }
	coreRow := make(map[group]int, len(core.Rows))
	for i, row := range core.Rows {
		coreRow[group{row.Subject, row.CellType, row.Status}] = i
	}
	have := make(map[string]bool, len(core.Genes))
	for _, g := range core.Genes {
		have[g] = true
	}

	var merged []string
	added := 0
	for _, path := range extFiles {
		ext, err := readPositivityTable(path)
		if err != nil {
			log.Errorf("%s: not merging %s: %s", prefix, filepath.Base(path), err)
			continue
		}
		extValues := make(map[group][]float64, len(ext.Rows))
		for _, row := range ext.Rows {
			extValues[group{row.Subject, row.CellType, row.Status}] = row.Values
		}
		newGenes := 0
		for gi, g := range ext.Genes {
			if have[g] {
				continue
			}
			have[g] = true
			newGenes++
			core.Genes = append(core.Genes, g)
			for i := range core.Rows {
				row := &core.Rows[i]
				v := 0.0
				if vals, ok := extValues[group{row.Subject, row.CellType, row.Status}]; ok {
					v = vals[gi]
				}
				row.Values = append(row.Values, v)
			}
		}
		merged = append(merged, path)
		added += newGenes
		if newGenes == 0 {
			log.Infof("%s: %s has no new gene columns", prefix, filepath.Base(path))
		} else {
			log.Infof("%s: adding %d gene columns from %s", prefix, newGenes, filepath.Base(path))
		}
	}

	if added > 0 {
		err = writePositivityTable(corePath, core)
		if err != nil {
			return err
		}
	}
	for _, path := range merged {
		err = os.Remove(path)
		if err != nil {
			return err
		}
		log.Infof("deleted %s", path)
	}
	return nil
}

// readPositivityTable reads a pert table back from parquet. The gene
// columns are whatever DOUBLE columns follow the three join columns.
func readPositivityTable(path string) (*PositivityTable, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()
	pr, err := reader.NewParquetColumnReader(fr, 1)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer pr.ReadStop()

	nrows := int(pr.GetNumRows())
	byName := map[string][]interface{}{}
	var genes []string
	for i, se := range pr.Footer.Schema {
		if i == 0 {
			// root element
			continue
		}
		vals, _, _, err := pr.ReadColumnByIndex(int64(i-1), int64(nrows))
		if err != nil {
			return nil, fmt.Errorf("%s: column %s: %w", path, se.Name, err)
		}
		byName[se.Name] = vals
		switch se.Name {
		case "Subject", "CellType", "Status":
		default:
			genes = append(genes, se.Name)
		}
	}
	for _, k := range []string{"Subject", "CellType", "Status"} {
		if byName[k] == nil {
			return nil, fmt.Errorf("%s: missing join column %s", path, k)
		}
	}

	str := func(col string, row int) string {
		s, _ := byName[col][row].(string)
		return s
	}
	ret := &PositivityTable{Genes: genes}
	for row := 0; row < nrows; row++ {
		values := make([]float64, len(genes))
		for gi, g := range genes {
			v, ok := byName[g][row].(float64)
			if !ok {
				return nil, fmt.Errorf("%s: column %s row %d: not a DOUBLE", path, g, row)
			}
			values[gi] = v
		}
		ret.Rows = append(ret.Rows, PositivityRow{
			Subject:  str("Subject", row),
			CellType: str("CellType", row),
			Status:   str("Status", row),
			Values:   values,
		})
	}
	return ret, nil
}
