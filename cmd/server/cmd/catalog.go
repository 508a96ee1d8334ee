package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/config"
	"github.com/Togather-Foundation/safetynow/internal/domain/catalog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	catalogKind  string
	catalogFile  string
	catalogForce bool
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Import or purge talks and tools",
	Long: `Maintain the talks and tools catalogs.

Import files are YAML lists of items:

  - title: Ladder Safety
    category: General
    hazard: Falls
    industry: Construction
    language: en
    related_title: ladder-safety

Rows whose (title, language) already exist are skipped, so imports can be
re-run safely.

Examples:
  server catalog import --kind talks --file talks.yaml
  server catalog purge --kind tools --force`,
}

var catalogImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load catalog items from a YAML file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := catalog.ParseKind(catalogKind)
		if err != nil {
			return err
		}
		items, err := readCatalogFile(catalogFile)
		if err != nil {
			return err
		}

		return withApplication(func(ctx context.Context, app *application) error {
			added, err := app.catalog(kind).Import(ctx, items)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d %s\n", added, len(items), kind)
			return nil
		})
	},
}

var catalogPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every item and like in a catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := catalog.ParseKind(catalogKind)
		if err != nil {
			return err
		}
		if !catalogForce {
			return fmt.Errorf("refusing to purge %s without --force", kind)
		}

		return withApplication(func(ctx context.Context, app *application) error {
			deleted, err := app.catalog(kind).Purge(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d %s\n", deleted, kind)
			return nil
		})
	},
}

func init() {
	catalogCmd.PersistentFlags().StringVar(&catalogKind, "kind", "", "catalog to operate on (talks or tools)")
	catalogImportCmd.Flags().StringVar(&catalogFile, "file", "", "YAML file of items")
	catalogPurgeCmd.Flags().BoolVar(&catalogForce, "force", false, "confirm deletion")

	_ = catalogImportCmd.MarkFlagRequired("file")

	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogPurgeCmd)
}

func readCatalogFile(path string) ([]catalog.NewItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var items []catalog.NewItem
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}
	if len(items) == 0 {
		return nil, errors.New("catalog file contains no items")
	}
	return items, nil
}

// withApplication loads config, wires services and runs fn with a bounded
// context.
func withApplication(fn func(context.Context, *application) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := config.NewLogger(cfg.Logging)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(ctx, app)
}
