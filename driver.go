// Copyright (C) The Warehouse Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package warehouse

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

// DatasetDesc describes one dataset to precompute: where its analysis
// blob lives, which embedding/assay to read, the warehouse prefix its
// artifacts are filed under, and an optional fixed gene list (empty
// means every gene in the assay).
type DatasetDesc struct {
	Path      string   `json:"path"`
	Name      string   `json:"name"`
	Prefix    string   `json:"prefix"`
	Embedding string   `json:"embedding"`
	Assay     string   `json:"assay"`
	Genes     []string `json:"genes"`
}

type Mode int

const (
	// ModeBatch processes every configured dataset, writing "core"
	// artifacts, with per-dataset failure isolation.
	ModeBatch Mode = iota
	// ModeOnDemand processes exactly one dataset selected by
	// prefix, writing timestamped gex/pert artifacts so repeated
	// invocations never overwrite each other or the batch outputs.
	ModeOnDemand
)

// Config is the driver's explicit configuration. Mode selection
// happens before construction; the driver never reads the
// environment.
type Config struct {
	WarehouseDir   string
	Mode           Mode
	OnDemandPrefix string
	OnDemandGenes  []string
	Datasets       []DatasetDesc
	Now            func() time.Time // nil means time.Now
}

type Driver struct {
	cfg Config
}

func NewDriver(cfg Config) *Driver {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Driver{cfg: cfg}
}

// Run executes the configured mode. In batch mode a dataset's failure
// is logged and the remaining datasets still run; Run reports how
// many failed.
func (drv *Driver) Run() error {
	switch drv.cfg.Mode {
	case ModeBatch:
		failed := 0
		for _, desc := range drv.cfg.Datasets {
			if _, err := os.Stat(desc.Path); err != nil {
				log.Errorf("%s: skipping: %s", desc.Prefix, err)
				failed++
				continue
			}
			err := drv.runIsolated(desc, "core")
			if err != nil {
				log.Errorf("%s: %s", desc.Prefix, err)
				failed++
				continue
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d datasets failed", failed, len(drv.cfg.Datasets))
		}
		return nil
	case ModeOnDemand:
		for _, desc := range drv.cfg.Datasets {
			if desc.Prefix != drv.cfg.OnDemandPrefix {
				continue
			}
			if len(drv.cfg.OnDemandGenes) > 0 {
				desc.Genes = drv.cfg.OnDemandGenes
			}
			return drv.runDataset(desc, drv.cfg.Now().UTC().Format("20060102T150405"))
		}
		return fmt.Errorf("no dataset configured with prefix %q", drv.cfg.OnDemandPrefix)
	default:
		return fmt.Errorf("invalid mode %d", drv.cfg.Mode)
	}
}

// runIsolated is the batch-mode failure boundary: nothing a single
// dataset does, panics included, may abort the loop.
func (drv *Driver) runIsolated(desc DatasetDesc, suffix string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return drv.runDataset(desc, suffix)
}

func (drv *Driver) runDataset(desc DatasetDesc, suffix string) error {
	log.Infof("%s: loading %s", desc.Prefix, desc.Path)
	ds, err := LoadDataset(desc.Path)
	if err != nil {
		return err
	}
	levels := Levels{CellTypes: ds.CellTypeLevels(), Statuses: DefaultStatusLevels}

	dirs := map[string]string{}
	for _, sub := range []string{"Stats", "GEX", "Pert", "UMAP", "Color"} {
		dir := filepath.Join(drv.cfg.WarehouseDir, sub)
		err = os.MkdirAll(dir, 0777)
		if err != nil {
			return err
		}
		dirs[sub] = dir
	}
	statsPath := func(kind string) string {
		return filepath.Join(dirs["Stats"], fmt.Sprintf("%s_stats_%s.parquet", desc.Prefix, kind))
	}

	summarizer := &StatSummarizer{Levels: levels}
	meta := ds.Metadata()
	err = writeSubjectStatusStats(statsPath("subject_status"), summarizer.SummarizePerSubjectStatus(meta))
	if err != nil {
		return err
	}
	err = writeClusterSampleStats(statsPath("cluster_sample"), summarizer.SummarizeClusterPerSample(meta))
	if err != nil {
		return err
	}
	err = writeClusterStatusStats(statsPath("cluster_status"), summarizer.SummarizeClusterPerStatus(meta))
	if err != nil {
		return err
	}

	embName := desc.Embedding
	if embName == "" {
		embName = "umap"
	}
	emb, ok := ds.Embedding(embName)
	if !ok {
		return fmt.Errorf("embedding %q not found in input; have %v", embName, ds.EmbeddingNames())
	}
	x, y, err := ExtractUMAP(emb)
	if err != nil {
		return err
	}

	assayName := desc.Assay
	if assayName == "" {
		assayName = "RNA"
	}
	assay, ok := ds.Assay(assayName)
	if !ok {
		return fmt.Errorf("assay %q not found in input; have %v", assayName, ds.AssayNames())
	}

	// A failed expression pull degrades the run instead of killing
	// it: the per-cell table still goes out with metadata and
	// coordinates, and the gene index is left alone.
	genes, expr, exprErr := ExtractExpression(assay, desc.Genes)
	if exprErr != nil {
		log.Warnf("%s: expression extraction failed, continuing without gene columns: %s", desc.Prefix, exprErr)
		genes, expr = nil, map[string][]float64{}
	}

	combined, err := BuildCellTable(meta, x, y, genes, expr)
	if err != nil {
		return err
	}

	err = writeCellTable(filepath.Join(dirs["GEX"], fmt.Sprintf("%s_gex_%s.parquet", desc.Prefix, suffix)), combined, true)
	if err != nil {
		return err
	}
	err = writeCellTable(filepath.Join(dirs["UMAP"], fmt.Sprintf("%s_umap_data.parquet", desc.Prefix)), combined, false)
	if err != nil {
		return err
	}

	if len(combined.Genes) > 0 {
		calc := &PositivityCalculator{Levels: levels}
		var pt *PositivityTable
		pt, err = calc.Calculate(combined, combined.Genes)
		if err != nil {
			return err
		}
		err = writePositivityTable(filepath.Join(dirs["Pert"], fmt.Sprintf("%s_pert_%s.parquet", desc.Prefix, suffix)), pt)
		if err != nil {
			return err
		}
		if suffix == "core" {
			// On-demand runs carry ad-hoc gene subsets; only
			// the batch export refreshes the full matrix.
			err = writeExpressionMatrix(filepath.Join(dirs["GEX"], desc.Prefix+"_gex_matrix.npy"), combined)
			if err != nil {
				return err
			}
		}
	} else {
		log.Warnf("%s: no genes exported, skipping positivity table", desc.Prefix)
	}

	err = writeJSON(filepath.Join(dirs["Color"], desc.Prefix+"_colors.json"), ds.Colors())
	if err != nil {
		return err
	}
	universe := append([]string(nil), assay.Genes...)
	sort.Strings(universe)
	err = writeJSON(filepath.Join(dirs["GEX"], desc.Prefix+"_avail_genelist.json"), universe)
	if err != nil {
		return err
	}

	_, err = MergeGeneIndex(filepath.Join(dirs["GEX"], desc.Prefix+"_gex_genes.json"), combined.Genes)
	if err != nil {
		return err
	}
	log.Infof("%s: done (%d cells, %d genes)", desc.Prefix, len(combined.Cells), len(combined.Genes))
	return nil
}
