// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

// Command mmopilot drives Artifacts MMO characters from declarative rule
// files.
package main

import (
	"context"
	"os"
)

func main() {
	app := NewApp()
	if err := app.Execute(context.Background()); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}
