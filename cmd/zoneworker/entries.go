package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jkaflik/zoneworker/internal/entry"
)

var (
	entriesCmd = &cobra.Command{
		Use:   "entries",
		Short: "Manage stored config entries",
	}

	entriesListCmd = &cobra.Command{
		Use:   "list",
		Short: "Print config entries as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(store *entry.SQLiteStore) error {
				return listEntries(cmd.Context(), store, cmd.OutOrStdout())
			})
		},
	}

	entriesExportCmd = &cobra.Command{
		Use:   "export [file]",
		Short: "Export config entries as JSON lines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store *entry.SQLiteStore) error {
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					f, err := os.Create(args[0])
					if err != nil {
						return err
					}
					defer f.Close()
					out = f
				}

				n, err := entry.Export(cmd.Context(), store, out)
				if err != nil {
					return err
				}
				log.Info().Int("entries", n).Msg("Exported config entries")
				return nil
			})
		},
	}

	entriesImportCmd = &cobra.Command{
		Use:   "import [file]",
		Short: "Import config entries from JSON lines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store *entry.SQLiteStore) error {
				in := cmd.InOrStdin()
				if len(args) == 1 {
					f, err := os.Open(args[0])
					if err != nil {
						return err
					}
					defer f.Close()
					in = f
				}

				imported, skipped, err := entry.Import(cmd.Context(), store, in)
				log.Info().Int("imported", imported).Int("skipped", skipped).Msg("Imported config entries")
				return err
			})
		},
	}
)

func init() {
	entriesCmd.AddCommand(entriesListCmd, entriesExportCmd, entriesImportCmd)
}

func withStore(ctx context.Context, fn func(*entry.SQLiteStore) error) error {
	store, err := entry.OpenSQLite(ctx, viper.GetString("database.path"))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close entry store")
		}
	}()
	return fn(store)
}

func listEntries(ctx context.Context, store entry.Store, w io.Writer) error {
	entries, err := store.List(ctx)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("failed to encode entries: %w", err)
	}
	return enc.Close()
}
