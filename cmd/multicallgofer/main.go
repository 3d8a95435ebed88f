package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"multicallgofer/internal/config"
	"multicallgofer/internal/server"
)

const EnvVarPrefix = "MULTICALLGOFER"

var Version = "dev"

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "path to config file",
		Value:   "config.json",
		EnvVars: []string{EnvVarPrefix + "_CONFIG"},
	}
	logLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "overrides the configured log level (debug, info, warn, error)",
		EnvVars: []string{EnvVarPrefix + "_LOG_LEVEL"},
	}
)

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "multicallgofer"
	app.Usage = "Multicall aggregation service"
	app.Description = "Batches contract reads into multicall requests and serves them over JSON-RPC"
	app.Flags = []cli.Flag{configFlag, logLevelFlag}
	app.Action = serve
	app.Commands = []*cli.Command{
		{
			Name:   "serve",
			Usage:  "Run the JSON-RPC query service",
			Action: serve,
		},
		{
			Name:      "balances",
			Usage:     "Print native balances of the given accounts",
			ArgsUsage: "<address>...",
			Action:    printBalances,
		},
		{
			Name:   "height",
			Usage:  "Print the chain head and the freshness floor",
			Action: printHeight,
		},
	}
	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

// load reads the config and builds the logger for a command
func load(cliCtx *cli.Context) (*config.Config, zerolog.Logger, error) {
	configPath := cliCtx.String(configFlag.Name)
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.LogLevel
	if override := cliCtx.String(logLevelFlag.Name); override != "" {
		level = override
	}
	return cfg, setupLogger(level), nil
}

func serve(cliCtx *cli.Context) error {
	cfg, logger, err := load(cliCtx)
	if err != nil {
		return err
	}
	logger.Info().
		Str("config", cliCtx.String(configFlag.Name)).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Uint64("chainId", cfg.ChainID).
		Int("upstreams", len(cfg.Upstreams)).
		Msg("starting multicallgofer")

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p.tracker.Start(ctx)

	service, err := p.service(logger)
	if err != nil {
		return err
	}
	srv := server.New(cfg, service, p.registry, logger)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	p.metrics.RecordUp()

	<-ctx.Done()
	logger.Info().Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
	return nil
}

func printBalances(cliCtx *cli.Context) error {
	if cliCtx.NArg() == 0 {
		return fmt.Errorf("at least one address is required")
	}
	cfg, logger, err := load(cliCtx)
	if err != nil {
		return err
	}
	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(cliCtx.Context, cfg.GetRequestTimeoutDuration())
	defer cancel()

	amounts, err := p.balances.ETHBalances(ctx, cliCtx.Args().Slice())
	if err != nil {
		return err
	}

	lines := make([]string, 0, len(amounts))
	for address, amount := range amounts {
		lines = append(lines, fmt.Sprintf("%s\t%s %s", address.Hex(), amount.String(), amount.Token.Symbol))
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Fprintln(cliCtx.App.Writer, line)
	}
	return nil
}

func printHeight(cliCtx *cli.Context) error {
	cfg, logger, err := load(cliCtx)
	if err != nil {
		return err
	}
	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(cliCtx.Context, cfg.GetRequestTimeoutDuration())
	defer cancel()

	head, err := p.tracker.CurrentHeight(ctx)
	if err != nil {
		return err
	}
	latest, err := p.aggregator.LatestHeight(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cliCtx.App.Writer, "head\t%d\nlatest\t%d\n", head, latest)
	for _, u := range p.pool.GetAll() {
		fmt.Fprintf(cliCtx.App.Writer, "%s\t%d\t%s\n", u.Name(), u.GetCurrentBlock(), u.BreakerState())
	}
	return nil
}

// setupLogger configures the zerolog logger
func setupLogger(level string) zerolog.Logger {
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
