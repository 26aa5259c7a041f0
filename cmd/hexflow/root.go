package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/petrijr/hexflow/internal/config"
	"github.com/petrijr/hexflow/internal/logging"
)

// app carries state shared by every subcommand.
type app struct {
	v          *viper.Viper
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "hexflow",
		Short: "Route browsers through a workflow of micro-frontend step applications",
		Long: `hexflow loads a workflow definition (*.dag) and coordinates sessions
across the step applications it declares. Each step application redirects
back to /next when it is done; hexflow records the submitted data and sends
the browser on to the next application in the flow.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default: hexflow.yaml in the workflow directory)")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flags.String("workflow-dir", ".", "directory containing the workflow definition")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "json", "log format: json or console")
	flags.String("store", config.DriverSQLite, "session store: memory, sqlite, postgres, redis or mongo")
	flags.String("dsn", "", "store DSN (sqlite file or postgres connection string)")

	_ = a.v.BindPFlag("workflow_dir", flags.Lookup("workflow-dir"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = a.v.BindPFlag("store.driver", flags.Lookup("store"))
	_ = a.v.BindPFlag("store.dsn", flags.Lookup("dsn"))

	root.AddCommand(
		newServeCmd(a),
		newValidateCmd(a),
		newSessionsCmd(a),
		newJanitorCmd(a),
	)
	return root
}

// load resolves configuration and installs the logger.
func (a *app) load() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(a.v, a.configFile, a.envFile)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, logger, nil
}
