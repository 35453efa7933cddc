// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command keyctl is an operator CLI for minting and revoking ingestord
// API keys directly against the database, bypassing the HTTP surface.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/veriscribe/ingestor/internal/auth"
	"github.com/veriscribe/ingestor/internal/config"
	"github.com/veriscribe/ingestor/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "keyctl",
	Short: "Manage ingestord API keys",
}

var registerCmd = &cobra.Command{
	Use:   "register [name]",
	Short: "Mint a new frontend API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegister,
}

var revokeCmd = &cobra.Command{
	Use:   "revoke [key]",
	Short: "Deactivate an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runRevoke,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config overlay")
	rootCmd.AddCommand(registerCmd, revokeCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("keyctl: %v", err)
	}
}

func openStore(ctx context.Context) (*store.Store, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(ctx, cfg.DatabaseDSN, cfg.FilesDir)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}
	return st, cfg, nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, cfg, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := auth.NewService(st, cfg.MasterAPIKey)
	key, err := svc.Register(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(key.Key)
	return nil
}

func runRevoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DeactivateAPIKey(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("revoked")
	return nil
}
