// Copyright (C) The Warehouse Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package warehouse

import (
	"flag"
	"fmt"
	"io"
	"sort"

	log "github.com/sirupsen/logrus"
)

// genelist writes the sorted gene universe of an analysis blob's
// assay as a JSON list: "genelist input.gob.gz genes.json". The
// dashboard reads the output to populate its gene picker without
// loading the blob.
type genelist struct{}

func (cmd *genelist) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	assayName := flags.String("assay", "RNA", "assay `name` to list genes from")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() != 2 {
		err = fmt.Errorf("usage: %s [-assay name] input.gob[.gz] output.json", prog)
		return 2
	}
	inputFilename, outputFilename := flags.Arg(0), flags.Arg(1)

	ds, err := LoadDataset(inputFilename)
	if err != nil {
		return 1
	}
	assay, ok := ds.Assay(*assayName)
	if !ok {
		err = fmt.Errorf("assay %q not found in input; have %v", *assayName, ds.AssayNames())
		return 1
	}
	genes := append([]string(nil), assay.Genes...)
	sort.Strings(genes)
	err = writeJSON(outputFilename, genes)
	if err != nil {
		return 1
	}
	log.Infof("listed %d genes from %s", len(genes), inputFilename)
	return 0
}
