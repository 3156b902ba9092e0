package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/records"
	"github.com/zulandar/waybill/internal/sheet"
)

func newRecordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Ledger record commands",
	}

	cmd.AddCommand(newRecordsImportCmd())
	return cmd
}

func newRecordsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.xlsx|file.json>",
		Short: "Import ledger records from a workbook or JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordsImport(cmd, configFlag(cmd), args[0])
		},
	}
}

func runRecordsImport(cmd *cobra.Command, configPath, path string) error {
	rows, err := readLedgerFile(path)
	if err != nil {
		return err
	}
	_, _, gormDB, err := connectFromConfig(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	n, err := records.NewStore(gormDB).ImportMany(context.Background(), rows)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records from %s\n", n, filepath.Base(path))
	return nil
}

func readLedgerFile(path string) ([]models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return sheet.ReadLedger(f)
	case ".json":
		return records.DecodeJSON(f)
	default:
		return nil, fmt.Errorf("unsupported file %s (want .xlsx or .json)", filepath.Base(path))
	}
}
