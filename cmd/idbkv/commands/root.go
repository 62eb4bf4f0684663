package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Jeanedlune/idbkv/configs"
	"github.com/Jeanedlune/idbkv/idb"
	"github.com/Jeanedlune/idbkv/internal/logging"
)

// app is the state shared by every subcommand once the config is loaded.
type app struct {
	configPath string
	config     *configs.Config
	logger     zerolog.Logger
	store      *idb.Store
}

// Execute runs the root command and closes the store whatever the outcome.
func Execute(ctx context.Context, version string) error {
	rootCmd, a := newRootCommand(version)
	err := rootCmd.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func newRootCommand(version string) (*cobra.Command, *app) {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "idbkv",
		Short: "Key-value store over a transactional object store",
		Long: `idbkv stores structured values under string keys in a single table of a
versioned database. The engine behind it is chosen by storage.type:
bolt, badger, sqlite or memory.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file path")

	rootCmd.AddCommand(newServeCommand(a))
	rootCmd.AddCommand(newGetCommand(a))
	rootCmd.AddCommand(newSetCommand(a))
	rootCmd.AddCommand(newRemoveCommand(a))
	rootCmd.AddCommand(newClearCommand(a))
	rootCmd.AddCommand(newKeysCommand(a))
	rootCmd.AddCommand(newDumpCommand(a))
	rootCmd.AddCommand(newRestoreCommand(a))

	return rootCmd, a
}

func (a *app) load(cmd *cobra.Command) error {
	config, err := configs.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.config = config
	a.logger = logging.New(config.Log.Level, config.Log.Format, cmd.ErrOrStderr())

	store, err := config.OpenStore()
	if err != nil {
		return err
	}
	a.store = store
	a.logger.Debug().
		Str("storage", config.Storage.Type).
		Str("database", store.Name()).
		Str("store", store.StoreName()).
		Msg("store configured")
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}
