package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/alarm-escalator/pkg/api"
	"github.com/telekom/alarm-escalator/pkg/config"
	"github.com/telekom/alarm-escalator/pkg/credentials"
	"github.com/telekom/alarm-escalator/pkg/escalation"
	"github.com/telekom/alarm-escalator/pkg/system"
	"github.com/telekom/alarm-escalator/pkg/version"
)

// Config holds what the root command needs from its caller.
type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	// Getenv resolves environment overrides. Defaults to os.Getenv.
	Getenv func(string) string
	// StartLambda hands the invocation function to the Lambda runtime.
	// Defaults to lambda.StartWithOptions.
	StartLambda func(handler any, opts ...lambda.Option)
	// Provider replaces the configured credential provider, mainly for tests.
	Provider credentials.Provider
}

type runtimeState struct {
	configPath string
	debug      bool
	logLevel   string
	writer     io.Writer
	getenv     func(string) string
	start      func(handler any, opts ...lambda.Option)
	provider   credentials.Provider

	cfg config.Config
	log *zap.Logger
}

// DefaultConfig returns the configuration used by the escalator binary.
func DefaultConfig() Config {
	return Config{
		ConfigPath:   getEnvString("ESCALATOR_CONFIG", "./config.yaml"),
		OutputWriter: os.Stdout,
		Getenv:       os.Getenv,
		StartLambda:  lambda.StartWithOptions,
	}
}

// NewRootCommand builds the escalator command tree.
func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		writer:     cfg.OutputWriter,
		getenv:     cfg.Getenv,
		start:      cfg.StartLambda,
		provider:   cfg.Provider,
		debug:      getEnvBool("ESCALATOR_DEBUG", false),
	}

	root := &cobra.Command{
		Use:           "escalator",
		Short:         "Escalates CloudWatch alarms delivered through SNS into issue tracker tickets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.getenv == nil {
				rt.getenv = os.Getenv
			}
			if rt.start == nil {
				rt.start = lambda.StartWithOptions
			}
			cmd.SetOut(rt.writer)

			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			return rt.load(cmd.Flags().Changed("config"))
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if rt.log != nil {
				_ = rt.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", rt.debug, "Enable debug logging with the development encoder")
	root.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "Log level override: debug, info, warn, error")

	root.AddCommand(
		newLambdaCommand(rt),
		newServeCommand(rt),
		newInvokeCommand(rt),
		newCredentialsCommand(rt),
		newVersionCommand(),
	)
	return root
}

// load reads the configuration file and builds the logger. An explicitly
// requested file must exist; the default path is optional.
func (rt *runtimeState) load(explicit bool) error {
	var (
		cfg config.Config
		err error
	)
	if explicit {
		cfg, err = config.Load(rt.configPath)
	} else {
		cfg, err = config.LoadOptional(rt.configPath)
	}
	if err != nil {
		return err
	}
	cfg.ApplyEnv(rt.getenv)
	if rt.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(rt.logLevel)
	}
	rt.cfg = cfg

	log, err := system.NewLogger(system.LogOptions{Level: cfg.Logging.Level, Debug: rt.debug})
	if err != nil {
		return err
	}
	rt.log = log
	return nil
}

func (rt *runtimeState) build(ctx context.Context, opts BuildOptions) (*App, error) {
	opts.Getenv = rt.getenv
	opts.Provider = rt.provider
	return Build(ctx, rt.cfg, rt.log, opts)
}

func newLambdaCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as the AWS Lambda function subscribed to the alarm topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := rt.build(cmd.Context(), BuildOptions{Synchronous: true})
			if err != nil {
				return err
			}
			log := rt.log.Sugar()
			log.Infow("Starting Lambda runtime", "version", version.Version)

			invoke := func(ctx context.Context, payload json.RawMessage) (escalation.InvocationResponse, error) {
				resp, err := app.Handler.Invoke(ctx, payload)
				// the execution environment may be frozen once we return
				if ferr := app.Tracing.Flush(ctx); ferr != nil {
					log.Warnw("Failed to flush traces", "error", ferr.Error())
				}
				return resp, err
			}
			rt.start(invoke, lambda.WithEnableSIGTERM(func() {
				if err := app.Close(context.Background()); err != nil {
					log.Warnw("Shutdown incomplete", "error", err.Error())
				}
			}))
			return nil
		},
	}
}

func newServeCommand(rt *runtimeState) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an SNS HTTPS subscription endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if listen != "" {
				rt.cfg.Server.ListenAddress = listen
			}
			app, err := rt.build(ctx, BuildOptions{})
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(context.WithoutCancel(ctx)); err != nil {
					rt.log.Warn("Shutdown incomplete", zap.String("error", err.Error()))
				}
			}()

			srv, err := api.NewServer(rt.log, rt.cfg.Server, app.Handler, rt.debug)
			if err != nil {
				return err
			}
			defer srv.Close()
			return srv.Listen(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address override, e.g. :8080")
	return cmd
}

func newInvokeCommand(rt *runtimeState) *cobra.Command {
	var (
		eventPath string
		source    string
	)
	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Process one SNS event or bare alarm payload locally and print the outcomes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := readInput(cmd, eventPath)
			if err != nil {
				return err
			}
			app, err := rt.build(cmd.Context(), BuildOptions{CredentialSource: source, Synchronous: true})
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			resp, err := app.Handler.Invoke(cmd.Context(), payload)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(rt.writer)
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}
			if failed := resp.Failed(); failed > 0 {
				return fmt.Errorf("%d of %d notifications failed", failed, len(resp.Outcomes))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&eventPath, "event", "e", "-", "Event file, or - for stdin")
	cmd.Flags().StringVar(&source, "credentials", "", "Credential source override: secretsmanager, env, keyring")
	return cmd
}

func newCredentialsCommand(rt *runtimeState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage locally stored tracker credentials",
	}

	var file string
	store := &cobra.Command{
		Use:   "store NAME",
		Short: "Validate a secret payload and store it in the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			if err := credentials.StoreInKeyring(credentials.KeyringService, args[0], string(payload)); err != nil {
				return err
			}
			_, err = fmt.Fprintf(rt.writer, "stored %q in keyring service %q\n", args[0], credentials.KeyringService)
			return err
		},
	}
	store.Flags().StringVarP(&file, "file", "f", "-", "Secret JSON file, or - for stdin")

	cmd.AddCommand(store)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.GetBuildInfo().String())
			return err
		},
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("input is empty")
	}
	return data, nil
}

// getEnvString returns the environment value for key or defaultVal when unset.
func getEnvString(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultVal
}

// getEnvBool parses a boolean environment variable, accepting true/false/1/0/yes/no.
func getEnvBool(key string, defaultVal bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return defaultVal
	}
}
