// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/config"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/store"
)

type verifyOptions struct {
	configPath string
	runID      string
}

func verifyCommand(args []string) error {
	opts := &verifyOptions{}
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.runID, "run", "", "Verify the stored receipt for this run ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if opts.runID != "" {
		return verifyStored(opts)
	}

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: %s verify <receipt.json> | %s verify --run <run_id>", appName, appName)
	}
	return verifyFile(fs.Arg(0))
}

// verifyFile checks a receipt exported as JSON.
func verifyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read receipt: %w", err)
	}

	var receipt contract.Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return fmt.Errorf("failed to parse receipt: %w", err)
	}

	return reportVerification(receipt)
}

// verifyStored loads the receipt from the configured store. The store
// itself re-verifies on load, so a tampered record fails here.
func verifyStored(opts *verifyOptions) error {
	cfg, err := config.NewConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open receipt store: %w", err)
	}
	defer st.Close()

	receipt, err := st.Get(context.Background(), opts.runID)
	if err != nil {
		return fmt.Errorf("failed to load receipt: %w", err)
	}

	return reportVerification(*receipt)
}

func reportVerification(receipt contract.Receipt) error {
	if receipt.ReceiptSHA256 == nil {
		return fmt.Errorf("receipt %s is not sealed", receipt.Meta.RunID)
	}

	ok, err := contract.VerifyHash(receipt)
	if err != nil {
		return fmt.Errorf("failed to verify receipt: %w", err)
	}
	if !ok {
		want, hashErr := contract.ReceiptHash(receipt)
		if hashErr == nil {
			fmt.Printf("TAMPERED  run %s\n  stored:   %s\n  computed: %s\n",
				receipt.Meta.RunID, *receipt.ReceiptSHA256, want)
		}
		return fmt.Errorf("receipt %s failed hash verification", receipt.Meta.RunID)
	}

	fmt.Printf("OK  run %s  outcome %s  sha256:%s\n",
		receipt.Meta.RunID, receipt.Outcome, *receipt.ReceiptSHA256)
	return nil
}
