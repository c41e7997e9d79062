package app

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Sternrassler/batchsync/pkg/batch"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) newHandlersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handlers",
		Short: "List the registered handlers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}

			reg, err := a.newRegistry()
			if err != nil {
				return err
			}
			return writeHandlers(cmd.OutOrStdout(), reg.List(), format)
		},
	}

	cmd.Flags().String("format", "yaml", "Output format (yaml, json)")
	return cmd
}

func writeHandlers(w io.Writer, infos []batch.HandlerInfo, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(infos); err != nil {
			return fmt.Errorf("encode handlers: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	default:
		return fmt.Errorf("unsupported format %q (want yaml or json)", format)
	}
}
