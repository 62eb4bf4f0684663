package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Jeanedlune/idbkv/codec"
)

func newGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the value stored under a key",
		Long: `Print the value stored under KEY as JSON. Sets print as arrays and maps
as arrays of [key, value] pairs. A key that was never stored prints
"undefined".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := a.store.Get(args[0])
			if err != nil {
				return err
			}
			if codec.IsUndefined(value) {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "undefined")
				return err
			}
			out, err := json.Marshal(codec.ToJSON(value))
			if err != nil {
				return fmt.Errorf("failed to format value: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}

func newSetCommand(a *app) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store a value under a key",
		Long: `Store VALUE under KEY, replacing any existing value. VALUE is parsed as
JSON unless --raw is given, in which case it is stored as a string.`,
		Example: `  idbkv set user '{"name": "ada", "age": 36}'
  idbkv set greeting hello --raw`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any = args[1]
			if !raw {
				v, err := codec.FromJSON([]byte(args[1]))
				if err != nil {
					return err
				}
				value = v
			}
			if err := a.store.Set(args[0], value); err != nil {
				return err
			}
			a.logger.Debug().Str("key", args[0]).Msg("value stored")
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "store VALUE as a string without parsing")
	return cmd
}

func newRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm KEY",
		Aliases: []string{"remove"},
		Short:   "Remove a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.store.Remove(args[0])
		},
	}
}

func newClearCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every key",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.store.Clear()
		},
	}
}

func newKeysCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List keys in ascending order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := a.store.Keys()
			if err != nil {
				return err
			}
			for _, k := range keys {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), k); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
