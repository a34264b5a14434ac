package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"quantum-voting/blockchain/ledger"
	"quantum-voting/storage"
)

const LimitKey = "limit"

func auditCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "audit",
		Short: "Inspects the persisted audit ledger",
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verifies the hash chain of the latest ledger snapshot",
		RunE:  auditVerifyFunc,
	}

	tail := &cobra.Command{
		Use:   "tail",
		Short: "Prints the most recent ledger entries of the latest snapshot",
		RunE:  auditTailFunc,
	}
	tail.Flags().Int(LimitKey, ledger.DefaultTailLimit, "Number of entries to print")

	c.AddCommand(verify, tail)
	return c
}

func loadLatestLedger(c *cobra.Command) (*ledger.Ledger, string, error) {
	cfg, logger, err := loadConfig(c.Flags())
	if err != nil {
		return nil, "", err
	}
	snapshots, err := storage.NewSnapshotStore(filepath.Join(cfg.StorageDir, "snapshots"), cfg.SnapshotKeep, logger)
	if err != nil {
		return nil, "", err
	}
	entries, path, err := snapshots.LoadLatest()
	if err != nil {
		return nil, "", err
	}
	l, err := ledger.FromEntries(entries, logger)
	if err != nil {
		return nil, "", fmt.Errorf("snapshot %s: %w", filepath.Base(path), err)
	}
	return l, path, nil
}

func auditVerifyFunc(c *cobra.Command, _ []string) error {
	l, path, err := loadLatestLedger(c)
	if err != nil {
		return err
	}

	result := l.Verify()
	if err := printJSON(c.OutOrStdout(), map[string]any{
		"snapshot":     filepath.Base(path),
		"verification": result,
	}); err != nil {
		return err
	}
	if !result.Valid {
		return errors.New("ledger verification failed")
	}
	return nil
}

func auditTailFunc(c *cobra.Command, _ []string) error {
	limit, err := c.Flags().GetInt(LimitKey)
	if err != nil {
		return err
	}
	l, _, err := loadLatestLedger(c)
	if err != nil {
		return err
	}
	return printJSON(c.OutOrStdout(), l.Tail(limit))
}
