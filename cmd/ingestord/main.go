// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ingestord runs the clinical-evidence ingestion HTTP surface.
package main

import (
	"log"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ingestord",
	Short: "Clinical evidence ingestion service",
	Long:  `ingestord classifies, extracts, sanitizes, and assembles FHIR bundles from uploaded clinical documents.`,
}

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config overlay")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("ingestord: %v", err)
	}
}
