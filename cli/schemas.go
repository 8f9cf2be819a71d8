package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stevemurr/masterlist/registry"
	"github.com/stevemurr/masterlist/schema"
)

// schemaFile is the document read by "schemas apply".
type schemaFile struct {
	Schemas []schema.Definition `yaml:"schemas"`
}

func newSchemasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "Inspect and register schemas",
	}
	cmd.AddCommand(newSchemasListCmd(), newSchemasApplyCmd())
	return cmd
}

func newSchemasListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log, cmd.ErrOrStderr())
			s, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			reg, err := registry.New(cmd.Context(), s, log)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAME\tCREATED")
			for page := 1; ; page++ {
				listing, err := reg.List(cmd.Context(), page, 100)
				if err != nil {
					return err
				}
				for _, sum := range listing.Schemas {
					_, _ = fmt.Fprintf(w, "%s\t%s\n", sum.Name, sum.CreatedAt.Format(time.RFC3339))
				}
				if page >= listing.TotalPages {
					break
				}
			}
			return w.Flush()
		},
	}
}

func newSchemasApplyCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Register the schemas described in a YAML file",
		Long: `Register every schema listed in a YAML file.
Schemas that already exist are left untouched.`,
		Example: `  masterlist schemas apply -f schemas.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file) //nolint:gosec // path is provided by the user
			if err != nil {
				return fmt.Errorf(`failed to read schema file "%s": %w`, file, err)
			}
			var sf schemaFile
			if err := yaml.Unmarshal(data, &sf); err != nil {
				return fmt.Errorf(`failed to unmarshal schema file "%s": %w`, file, err)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log, cmd.ErrOrStderr())
			s, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			reg, err := registry.New(cmd.Context(), s, log)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, def := range sf.Schemas {
				created, err := reg.Register(cmd.Context(), def)
				switch {
				case errors.Is(err, schema.ErrDuplicateSchema):
					_, _ = fmt.Fprintf(out, "%s unchanged (already exists)\n", schema.NormalizeName(def.Name))
				case err != nil:
					return fmt.Errorf("schema %q: %w", def.Name, err)
				default:
					_, _ = fmt.Fprintf(out, "%s created\n", created.Name)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with a top-level schemas list")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
