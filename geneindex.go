// Copyright (C) The Warehouse Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package warehouse

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	log "github.com/sirupsen/logrus"
)

// MergeGeneIndex merges genes into the persisted gene index at path
// and returns the resulting set. The index only ever grows: the new
// set is the sorted, deduplicated union of the prior file (if any)
// and genes. An empty genes slice leaves the file untouched. The
// rewrite goes through a private temp file and rename so neither
// concurrent readers nor concurrent writers ever see a torn index.
func MergeGeneIndex(path string, genes []string) ([]string, error) {
	prior, existed, err := readGeneIndex(path)
	if err != nil {
		return nil, err
	}
	if len(genes) == 0 {
		log.Warnf("%s: no genes exported in this run, leaving index untouched", path)
		return prior, nil
	}

	set := make(map[string]bool, len(prior)+len(genes))
	for _, g := range prior {
		set[g] = true
	}
	added := 0
	for _, g := range genes {
		if !set[g] {
			set[g] = true
			added++
		}
	}
	merged := make([]string, 0, len(set))
	for g := range set {
		merged = append(merged, g)
	}
	sort.Strings(merged)

	if existed && added == 0 {
		return merged, nil
	}

	err = writeFileAtomic(path, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(merged)
	})
	if err != nil {
		return nil, err
	}
	log.Infof("%s: gene index now has %d genes (%d new)", path, len(merged), added)
	return merged, nil
}

func readGeneIndex(path string) (genes []string, existed bool, err error) {
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	err = json.Unmarshal(buf, &genes)
	if err != nil {
		return nil, true, fmt.Errorf("%s: %w", path, err)
	}
	return genes, true, nil
}
