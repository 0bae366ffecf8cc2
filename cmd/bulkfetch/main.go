package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ValerySidorin/bulkfetch/pkg/auth"
	"github.com/ValerySidorin/bulkfetch/pkg/bulkfetch"
	"github.com/ValerySidorin/bulkfetch/pkg/exportjob"
	"github.com/ValerySidorin/bulkfetch/pkg/progress"
	util_http "github.com/ValerySidorin/bulkfetch/pkg/util/http"
	util_log "github.com/ValerySidorin/bulkfetch/pkg/util/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	exitFailed   = 1
	exitPartial  = 2
	exitCanceled = 3
)

// exitError carries a process exit code other than the default one.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type options struct {
	cfg        bulkfetch.Config
	log        util_log.Config
	configFile string
	listenAddr string
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "bulkfetch",
		Short:         "FHIR bulk data export client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(cancelCmd())

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.msg != "" {
				fmt.Fprintln(os.Stderr, exitErr.msg)
			}
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitFailed)
	}
}

// bindFlags registers the go flags of opts on cmd. The returned func loads
// the config file and re-applies flags given on the command line, so flags
// win over the file and the file wins over defaults.
func bindFlags(cmd *cobra.Command, opts *options) func() error {
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	opts.cfg.RegisterFlags(fs)
	opts.log.RegisterFlags(fs)
	fs.StringVar(&opts.configFile, "config.file", "", "YAML configuration file.")
	cmd.Flags().AddGoFlagSet(fs)

	return func() error {
		if opts.configFile == "" {
			return nil
		}

		set := map[string]string{}
		cmd.Flags().Visit(func(f *pflag.Flag) {
			set[f.Name] = f.Value.String()
		})

		if err := bulkfetch.LoadConfig(opts.configFile, &opts.cfg); err != nil {
			return err
		}

		for name, value := range set {
			if err := cmd.Flags().Set(name, value); err != nil {
				return errors.Wrapf(err, "re-apply flag %s", name)
			}
		}
		return nil
	}
}

func exportCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Kick off a bulk export, wait for it and download every file",
		Args:  cobra.NoArgs,
	}
	load := bindFlags(cmd, opts)
	cmd.Flags().StringVar(&opts.listenAddr, "metrics.listen-address", "", "Serve Prometheus metrics on this address while exporting.")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := load(); err != nil {
			return err
		}
		if err := opts.cfg.Validate(); err != nil {
			return err
		}
		return runExport(opts)
	}
	return cmd
}

func runExport(opts *options) error {
	logger := util_log.InitLogger(&opts.log)

	if opts.listenAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(opts.listenAddr, mux); err != nil {
				level.Warn(logger).Log("msg", "metrics server stopped", "err", err)
			}
		}()
	}

	ctx := context.Background()
	printer := progress.NewPrinter(os.Stdout)

	exporter, err := bulkfetch.New(ctx, opts.cfg, prometheus.DefaultRegisterer, logger, bulkfetch.WithReporter(printer))
	if err != nil {
		return err
	}

	if err := exporter.StartAsync(ctx); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			level.Info(logger).Log("msg", "received signal, canceling export")
			exporter.StopAsync()
		case <-done:
		}
	}()

	runErr := exporter.AwaitTerminated(ctx)
	close(done)
	result := exporter.Result()

	printErrors(result)

	switch {
	case runErr != nil:
		return runErr
	case result.Canceled:
		return &exitError{code: exitCanceled, msg: "Export canceled"}
	case result.Failed > 0:
		return &exitError{code: exitPartial, msg: fmt.Sprintf("%d of %d files failed. Resume with --export.status-url=%s", result.Failed, result.Files, result.StatusURL)}
	}

	fmt.Printf("Export finished in %s: %d files, %d skipped\n", result.Duration.Round(time.Millisecond), result.Done, result.Skipped)
	return nil
}

func printErrors(r bulkfetch.Result) {
	if len(r.Errors) == 0 {
		return
	}

	rule := strings.Repeat("=", 28)
	fmt.Println()
	fmt.Println(rule)
	fmt.Println("ERRORS")
	fmt.Println(rule)
	for _, e := range r.Errors {
		fmt.Printf("%s: %v\n", e.File.Name, e.Err)
	}
	fmt.Println(rule)
}

func cancelCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "cancel <status-url>",
		Short: "Cancel an export and remove it from the server",
		Args:  cobra.ExactArgs(1),
	}
	load := bindFlags(cmd, opts)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := load(); err != nil {
			return err
		}
		if err := opts.cfg.HTTP.Validate(); err != nil {
			return errors.Wrap(err, "invalid http config")
		}
		if err := opts.cfg.Auth.Validate(); err != nil {
			return errors.Wrap(err, "invalid auth config")
		}
		return runCancel(opts, args[0])
	}
	return cmd
}

func runCancel(opts *options, statusURL string) error {
	logger := util_log.InitLogger(&opts.log)

	client, err := util_http.NewClient(opts.cfg.HTTP, logger)
	if err != nil {
		return err
	}
	provider, err := auth.NewProvider(opts.cfg.Auth)
	if err != nil {
		return err
	}

	job := exportjob.New(opts.cfg.Export, client, auth.NewSession(provider, opts.cfg.Auth.Required, logger), logger)
	job.Attach(statusURL)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := job.Cancel(ctx); err != nil {
		return errors.Wrap(err, "cancel export")
	}

	fmt.Println("The export was removed!")
	return nil
}
