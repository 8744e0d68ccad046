package command

import (
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sessionguard/internal/cli/output"
	"github.com/yndnr/sessionguard/internal/config"
	"github.com/yndnr/sessionguard/internal/container"
	"github.com/yndnr/sessionguard/internal/infra/buildinfo"
	"github.com/yndnr/sessionguard/internal/infra/confloader"
	"github.com/yndnr/sessionguard/internal/telemetry/logger"
	"github.com/yndnr/sessionguard/internal/telemetry/metric"
)

// Exit codes returned by ExitCode.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitSessionErr = 2
	ExitDegraded   = 3
)

const (
	metadataEnvKey = "env"
	configEnvVar   = "SESSIONGUARD_CONFIG"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "sessionguard",
		Usage:   "Authentication resilience coordinator",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			ValidateCommand(),
			ProfileCommand(),
			WatchCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
		Before: func(c *cli.Context) error {
			if _, err := output.ParseFormat(c.String("output")); err != nil {
				return err
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if e, ok := c.App.Metadata[metadataEnvKey].(*env); ok {
				delete(c.App.Metadata, metadataEnvKey)
				return e.close()
			}
			return nil
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML configuration file",
			EnvVars: []string{configEnvVar},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Override log.level (debug, info, warn, error)",
		},
	}
}

// env is the per-invocation runtime shared by commands.
type env struct {
	configPath string
	cfg        *config.Config
	loader     *confloader.Loader
	log        logger.Logger
	metrics    *metric.Registry
	container  *container.Container
	format     output.Format
	stdout     io.Writer
}

// loadConfig reads defaults, the config file, SESSIONGUARD_* variables and
// flag overrides, in that order.
func loadConfig(c *cli.Context) (*config.Config, *confloader.Loader, error) {
	opts := []confloader.Option{confloader.WithConfigFile(c.String("config"))}
	if lvl := c.String("log-level"); lvl != "" {
		opts = append(opts, confloader.WithOverrides(map[string]any{"log.level": lvl}))
	}
	loader := confloader.NewLoader(opts...)

	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return nil, nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// getEnv builds the runtime on first use and caches it in the app metadata.
func getEnv(c *cli.Context) (*env, error) {
	if e, ok := c.App.Metadata[metadataEnvKey].(*env); ok {
		return e, nil
	}

	cfg, loader, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: c.App.ErrWriter,
	})
	if err != nil {
		return nil, err
	}
	metrics := metric.NewRegistry()

	ctr, err := container.Bootstrap(cfg, container.WithLogger(log), container.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}

	e := &env{
		configPath: c.String("config"),
		cfg:        cfg,
		loader:     loader,
		log:        log,
		metrics:    metrics,
		container:  ctr,
		format:     format,
		stdout:     c.App.Writer,
	}
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[metadataEnvKey] = e
	return e, nil
}

func (e *env) close() error {
	if e.container == nil {
		return nil
	}
	return e.container.Close()
}

// render writes data in the selected output format.
func (e *env) render(data any) error {
	return output.NewFormatter(e.format).Format(e.stdout, data)
}

// render writes data without a runtime, for commands that do not need one.
func render(c *cli.Context, data any) error {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return err
	}
	return output.NewFormatter(format).Format(c.App.Writer, data)
}

// ExitError carries a process exit code alongside the message.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}
