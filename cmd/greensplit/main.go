package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/anggasct/greensplit/pkg/config"
	"github.com/anggasct/greensplit/pkg/cycle"
	"github.com/anggasct/greensplit/pkg/observers"
	"github.com/anggasct/greensplit/pkg/utils"
	"github.com/anggasct/greensplit/visualization"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg := config.Default()
	fs := pflag.NewFlagSet("greensplit", pflag.ContinueOnError)
	cfg.AddFlags(fs)
	printDOT := fs.Bool("print-dot", false, "Print the control cycle as Graphviz DOT and exit.")
	printSVG := fs.Bool("print-svg", false, "Render the control cycle to SVG with Graphviz and exit.")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *printDOT {
		dot, err := visualization.NewDOTGenerator().Generate()
		if err != nil {
			return err
		}
		fmt.Print(dot)
		return nil
	}
	if *printSVG {
		svg, err := visualization.NewSVGGenerator().Generate()
		if err != nil {
			return err
		}
		fmt.Print(svg)
		return nil
	}

	if err := cfg.Complete(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := utils.NewLogger(cfg.LogVerbosity, cfg.Development)
	if err != nil {
		return err
	}
	logger = logger.WithName("greensplit")

	settings, err := cfg.ControllerSettings()
	if err != nil {
		return err
	}
	source, err := cfg.NewSource()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observers.NewMetricsObserver(reg)
	if err != nil {
		return err
	}

	controller, err := cycle.New(settings,
		cycle.WithSource(source),
		cycle.WithLogger(logger.WithName("controller")),
		cycle.WithObserver(observers.NewLoggingObserver(logger.WithName("status"))),
		cycle.WithObserver(metrics),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(logger, cfg.MetricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error(err, "Metrics server shutdown failed")
			}
		}()
	}

	return controller.Run(ctx)
}

func startMetricsServer(logger logr.Logger, addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "Metrics server failed")
		}
	}()
	return srv
}
