package commands

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/pkg/config"
	"github.com/quarrybuild/quarry/pkg/eval"
	"github.com/quarrybuild/quarry/pkg/glob"
	"github.com/quarrybuild/quarry/pkg/telemetry"
)

func newEvalCommand() *cobra.Command {
	var (
		outFile       string
		watchGlobs    bool
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "eval [build files...]",
		Short: "Evaluate build files",
		Long: `Evaluate one or more build files and emit one JSON payload per file.

Each payload carries the registered rules followed by the reserved
__includes, __configs and __env provenance entries, plus the ordered
diagnostics raised during evaluation. Build files are evaluated in
argument order against a shared module cache, so extension files load
once.`,
		Example: `  # Evaluate one file to stdout
  quarry eval -c quarry.yaml java/lib/BUCK

  # Evaluate many files into one output stream
  quarry eval -c quarry.yaml $(find . -name BUCK) -o rules.jsonl

  # Keep glob results warm across evaluations
  quarry eval -c quarry.yaml --watch-globs java/lib/BUCK`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				cfg, err = config.Load(configPath)
				if err != nil {
					return err
				}
			}
			if verbose {
				cfg.Telemetry.Logging.Level = "debug"
			}

			logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
			if err != nil {
				return fmt.Errorf("configuring logging: %w", err)
			}
			logger = logger.WithRunID(uuid.NewString())

			metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
			if err != nil {
				return fmt.Errorf("configuring metrics: %w", err)
			}
			if metricsListen != "" {
				if handler := metrics.Handler(); handler != nil {
					go serveMetrics(logger, metricsListen, handler)
				}
			}

			var globber glob.Service = glob.NewLocalService()
			if watchGlobs {
				caching, err := glob.NewCachingService(globber)
				if err != nil {
					return fmt.Errorf("starting glob cache: %w", err)
				}
				defer caching.Close()
				globber = caching
			}

			ev, err := eval.New(eval.Options{
				Root:             cfg.Project.Root,
				CellName:         cfg.Project.CellName,
				CellRoots:        cfg.Project.Cells,
				BuildFileName:    cfg.Project.BuildFileName,
				ImplicitIncludes: cfg.ImplicitIncludes,
				RuleKinds:        cfg.Rules,
				Configs:          cfg.Configs,
				ImportAllowlist:  cfg.Imports.Allowlist,
				SafeModules:      cfg.Imports.SafeModules,
				Globber:          globber,
				Logger:           logger,
				Metrics:          metrics,
			})
			if err != nil {
				return err
			}

			var out io.Writer = os.Stdout
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return fmt.Errorf("creating output file: %w", err)
				}
				defer f.Close()
				out = f
			}

			for _, buildFile := range args {
				if err := ev.ProcessAndWrite(out, eval.Request{BuildFile: buildFile}); err != nil {
					return fmt.Errorf("evaluating %s: %w", buildFile, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&watchGlobs, "watch-globs", false, "cache glob results and invalidate on file changes")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")

	return cmd
}

func serveMetrics(logger *telemetry.Logger, addr string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	logger.Infof("Serving metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.WithError(err).Error("Metrics endpoint failed")
	}
}
