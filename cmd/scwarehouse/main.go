// Copyright (C) The Warehouse Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"github.com/scviz/warehouse"
)

func main() {
	warehouse.Main()
}
