package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"orderload/internal/cli"
	"orderload/internal/config"
	"orderload/internal/storage"
)

func newHistoryCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "List past runs, or show one as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := v.GetString(config.KeyHistory)
			if path == "" {
				def, err := storage.DefaultPath()
				if err != nil {
					return err
				}
				path = def
			}

			store, err := storage.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				item, err := store.Get(args[0])
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(item, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			items, err := store.List()
			if err != nil {
				return err
			}
			cli.PrintHistory(out, items)
			return nil
		},
	}

	return cmd
}
