// Copyright (C) The Warehouse Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package warehouse

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// The fixed batch sequence. A -config file replaces it wholesale.
var defaultDatasets = []DatasetDesc{
	{Path: "myeloid.gob.gz", Name: "HSV myeloid subset", Prefix: "myeloid", Embedding: "umap", Assay: "RNA"},
	{Path: "tcell.gob.gz", Name: "HSV T cell subset", Prefix: "tcell", Embedding: "umap", Assay: "RNA"},
}

type precompute struct{}

func (cmd *precompute) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	warehouseDir := flags.String("warehouse", "./DataWarehouse", "warehouse output `directory`")
	inputDir := flags.String("input-dir", ".", "`directory` holding the analysis blobs (prepended to relative dataset paths)")
	configFilename := flags.String("config", "", "JSON `file` with the dataset descriptor list (default: built-in list)")
	prefix := flags.String("prefix", "", "on-demand mode: process only the dataset with this `prefix`, writing timestamped artifacts")
	geneList := flags.String("genes", "", "on-demand mode: comma-separated gene `list` (default: the dataset's configured genes)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	datasets := append([]DatasetDesc(nil), defaultDatasets...)
	if *configFilename != "" {
		datasets, err = loadDatasetConfig(*configFilename)
		if err != nil {
			return 1
		}
	}
	for i := range datasets {
		if !filepath.IsAbs(datasets[i].Path) {
			datasets[i].Path = filepath.Join(*inputDir, datasets[i].Path)
		}
	}

	// The dashboard's background fetcher signals on-demand pulls
	// through the environment; flags take precedence.
	if *prefix == "" {
		*prefix = os.Getenv("EXTRACT_PREFIX")
	}
	if *geneList == "" {
		*geneList = os.Getenv("EXTRACT_GENES")
	}

	cfg := Config{
		WarehouseDir: *warehouseDir,
		Mode:         ModeBatch,
		Datasets:     datasets,
	}
	if *prefix != "" {
		cfg.Mode = ModeOnDemand
		cfg.OnDemandPrefix = *prefix
		cfg.OnDemandGenes = parseGeneList(*geneList)
	}
	err = NewDriver(cfg).Run()
	if err != nil {
		return 1
	}
	return 0
}

func loadDatasetConfig(path string) ([]DatasetDesc, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var datasets []DatasetDesc
	err = json.Unmarshal(buf, &datasets)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(datasets) == 0 {
		return nil, fmt.Errorf("%s: empty dataset list", path)
	}
	for i, desc := range datasets {
		if desc.Prefix == "" || desc.Path == "" {
			return nil, fmt.Errorf("%s: dataset %d: prefix and path are required", path, i)
		}
	}
	return datasets, nil
}

// parseGeneList splits a comma-separated gene list, trimming and
// uppercasing tokens and dropping duplicates while keeping order.
func parseGeneList(s string) []string {
	var genes []string
	seen := map[string]bool{}
	for _, tok := range strings.Split(s, ",") {
		g := strings.ToUpper(strings.TrimSpace(tok))
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		genes = append(genes, g)
	}
	return genes
}
