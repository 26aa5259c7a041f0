package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/petrijr/hexflow/internal/config"
	"github.com/petrijr/hexflow/internal/definition"
	"github.com/petrijr/hexflow/internal/httpapi"
	"github.com/petrijr/hexflow/internal/metrics"
	"github.com/petrijr/hexflow/internal/router"
	"github.com/petrijr/hexflow/pkg/api"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow router HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			return serve(cmd, cfg, logger)
		},
	}
	cmd.Flags().String("listen", ":8000", "address to listen on")
	cmd.Flags().String("workflow-file", "", "explicit definition file, overriding discovery in the workflow directory")
	_ = a.v.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	_ = a.v.BindPFlag("workflow_file", cmd.Flags().Lookup("workflow-file"))
	return cmd
}

// loadGraph returns nil without error when no definition exists, so the
// server can start and report "No workflow loaded". A definition that
// exists but does not parse is fatal.
func loadGraph(cfg config.Config, logger zerolog.Logger) (*api.WorkflowGraph, error) {
	if cfg.WorkflowFile != "" {
		g, err := definition.ParseFile(cfg.WorkflowFile)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("workflow", g.Name).Str("file", cfg.WorkflowFile).Msg("workflow loaded")
		return g, nil
	}

	g, path, err := definition.Load(cfg.WorkflowDir)
	switch {
	case errors.Is(err, definition.ErrNoDefinition):
		logger.Warn().Str("dir", cfg.WorkflowDir).Msg("no workflow definition found")
		return nil, nil
	case err != nil:
		return nil, err
	}
	logger.Info().Str("workflow", g.Name).Str("file", path).Int("apps", len(g.Apps)).Msg("workflow loaded")
	return g, nil
}

func serve(cmd *cobra.Command, cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	graph, err := loadGraph(cfg, logger)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn().Err(err).Msg("closing session store")
		}
	}()

	basic := &api.BasicMetrics{}
	observers := []api.Observer{api.NewLoggingObserver(logger), basic}
	if cfg.Statsd.Addr != "" {
		workflow := "none"
		if graph != nil {
			workflow = graph.Name
		}
		obs, client, err := metrics.Dial(cfg.Statsd.Addr, "workflow:"+workflow)
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Statsd.Addr).Msg("statsd disabled")
		} else {
			defer client.Close()
			observers = append(observers, obs)
		}
	}

	r := router.New(router.Config{
		Graph:      graph,
		Store:      store,
		Observer:   api.NewCompositeObserver(observers...),
		StepHost:   cfg.StepHost,
		StepScheme: cfg.StepScheme,
	})

	gin.SetMode(gin.ReleaseMode)
	engine := httpapi.NewEngine(httpapi.Options{
		Router:  r,
		Store:   store,
		Metrics: basic,
		Cookie:  cfg.Cookie,
		Logger:  logger,
	})
	return httpapi.Serve(ctx, httpapi.NewServer(cfg.Listen, engine), logger)
}
