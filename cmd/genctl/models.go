package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"genbot/internal/catalog"
)

var modelsPath string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models in the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(resolveModelsPath())
		if err != nil {
			return err
		}
		models := cat.List()
		sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCATEGORY\tPRICE\tFREE\tPARAMS")
		for _, m := range models {
			names := make([]string, 0, len(m.Params))
			for _, p := range m.Params {
				name := p.Name
				if p.Required {
					name += "*"
				}
				names = append(names, name)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", m.ID, m.Category, m.Pricing.Base, m.FreeGenerations, strings.Join(names, ","))
		}
		return tw.Flush()
	},
}

// resolveModelsPath prefers --file, then MODELS_PATH, which may come from .env.
func resolveModelsPath() string {
	if modelsPath != "" {
		return modelsPath
	}
	if v := os.Getenv("MODELS_PATH"); v != "" {
		return v
	}
	return "./configs/models.yaml"
}

func init() {
	modelsCmd.Flags().StringVar(&modelsPath, "file", "", "catalog file (default $MODELS_PATH or ./configs/models.yaml)")
	rootCmd.AddCommand(modelsCmd)
}
