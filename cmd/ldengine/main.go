// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Command ldengine is the CLI front-end for the pairwise variant
// statistics engine: region/single-variant/scores subcommands wired
// in cmd.go's package-level handler.
package main

import "github.com/statgen/ldengine"

func main() {
	lightning.Main()
}
