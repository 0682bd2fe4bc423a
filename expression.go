// Copyright (C) The Warehouse Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package warehouse

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ExtractExpression fetches per-cell expression values for the
// requested genes from assay. A nil or empty request means every gene
// in the assay. Requested genes absent from the assay are logged and
// excluded; an empty intersection is an error.
func ExtractExpression(assay *AssayData, requested []string) ([]string, map[string][]float64, error) {
	if len(requested) == 0 {
		requested = assay.Genes
	}
	expr := assay.GeneValues(requested)
	var genes, missing []string
	for _, g := range requested {
		if _, ok := expr[g]; ok {
			genes = append(genes, g)
		} else {
			missing = append(missing, g)
		}
	}
	if len(missing) > 0 {
		if limit := 100; len(missing) > limit {
			log.Warnf("assay %q: %d requested genes not found, first %d: %v", assay.Name, len(missing), limit, missing[:limit])
		} else {
			log.Warnf("assay %q: requested genes not found: %v", assay.Name, missing)
		}
	}
	if len(genes) == 0 {
		return nil, nil, fmt.Errorf("assay %q: none of the %d requested genes are present", assay.Name, len(requested))
	}
	return genes, expr, nil
}
