// Copyright (C) The Warehouse Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package warehouse

import (
	"bytes"
	"os"

	"gopkg.in/check.v1"
)

type datasetSuite struct{}

var _ = check.Suite(&datasetSuite{})

func (s *datasetSuite) TestRoundTrip(c *check.C) {
	for _, gz := range []bool{false, true} {
		path := c.MkDir() + "/ds.gob"
		if gz {
			path += ".gz"
		}
		f, err := os.Create(path)
		c.Assert(err, check.IsNil)
		err = EncodeDataset(f, gz, &DatasetEntry{
			CellMeta: []CellMeta{
				{Barcode: "bc1", Subject: "S1", Status: "Entry", Sample: "S1_Entry", CellType: "X"},
			},
			CellTypeLevels: []string{"X"},
			Colors:         map[string]string{"X": "#000000"},
		}, &DatasetEntry{
			// Metadata spread across entries is concatenated.
			CellMeta: []CellMeta{
				{Barcode: "bc2", Subject: "S1", Status: "Lesion", Sample: "S1_Lesion", CellType: "X"},
			},
			Assays: []AssayData{{Name: "RNA", Genes: []string{"ACTB"}, Values: [][]float64{{1, 2}}}},
		})
		c.Assert(err, check.IsNil)
		c.Assert(f.Close(), check.IsNil)

		ds, err := LoadDataset(path)
		c.Assert(err, check.IsNil, check.Commentf("gz=%v", gz))
		c.Check(ds.Metadata(), check.HasLen, 2)
		c.Check(ds.CellTypeLevels(), check.DeepEquals, []string{"X"})
		c.Check(ds.Colors(), check.DeepEquals, map[string]string{"X": "#000000"})
		assay, ok := ds.Assay("rna") // assay lookup is case-insensitive
		c.Assert(ok, check.Equals, true)
		c.Check(assay.GeneValues([]string{"ACTB"})["ACTB"], check.DeepEquals, []float64{1, 2})
	}
}

func (s *datasetSuite) TestDuplicateBarcodeRejected(c *check.C) {
	path := c.MkDir() + "/dup.gob"
	f, err := os.Create(path)
	c.Assert(err, check.IsNil)
	err = EncodeDataset(f, false, &DatasetEntry{
		CellMeta: []CellMeta{
			{Barcode: "bc1", Subject: "S1", Status: "Entry", Sample: "S1_Entry", CellType: "X"},
			{Barcode: "bc1", Subject: "S1", Status: "Entry", Sample: "S1_Entry", CellType: "X"},
		},
	})
	c.Assert(err, check.IsNil)
	c.Assert(f.Close(), check.IsNil)

	_, err = LoadDataset(path)
	c.Check(err, check.ErrorMatches, `.*duplicate barcode "bc1"`)
}

func (s *datasetSuite) TestMisalignedAssayRejected(c *check.C) {
	path := c.MkDir() + "/bad.gob"
	f, err := os.Create(path)
	c.Assert(err, check.IsNil)
	err = EncodeDataset(f, false, &DatasetEntry{
		CellMeta: []CellMeta{
			{Barcode: "bc1", Subject: "S1", Status: "Entry", Sample: "S1_Entry", CellType: "X"},
			{Barcode: "bc2", Subject: "S1", Status: "Entry", Sample: "S1_Entry", CellType: "X"},
		},
		Assays: []AssayData{{Name: "RNA", Genes: []string{"ACTB"}, Values: [][]float64{{1}}}},
	})
	c.Assert(err, check.IsNil)
	c.Assert(f.Close(), check.IsNil)

	_, err = LoadDataset(path)
	c.Check(err, check.ErrorMatches, `.*assay "rna" gene "ACTB": value count does not match 2 cells`)
}

func (s *datasetSuite) TestEmptyBlobRejected(c *check.C) {
	path := c.MkDir() + "/empty.gob"
	c.Assert(os.WriteFile(path, nil, 0666), check.IsNil)
	_, err := LoadDataset(path)
	c.Check(err, check.ErrorMatches, `.*no cell metadata found in input`)
}

func (s *datasetSuite) TestDecodeCallbackError(c *check.C) {
	var buf bytes.Buffer
	err := EncodeDataset(&buf, false, &DatasetEntry{CellMeta: []CellMeta{{Barcode: "bc1"}}})
	c.Assert(err, check.IsNil)
	err = DecodeDataset(&buf, false, func(*DatasetEntry) error { return os.ErrClosed })
	c.Check(err, check.Equals, os.ErrClosed)
}
