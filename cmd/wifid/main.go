//go:build linux
// +build linux

// Command wifid serves the wireless control plane on a local control socket,
// backed by a simulated radio.
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

	"github.com/alecthomas/kingpin/v2"
	"github.com/mdlayher/wifictl/internal/config"
	"github.com/mdlayher/wifictl/internal/ctlsock"
	"github.com/mdlayher/wifictl/internal/dispatch"
	"github.com/mdlayher/wifictl/internal/logging"
	"github.com/mdlayher/wifictl/internal/metrics"
	"github.com/mdlayher/wifictl/internal/notify"
	"github.com/mdlayher/wifictl/internal/registry"
	"github.com/mdlayher/wifictl/internal/scan"
	"github.com/mdlayher/wifictl/radio/sim"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := kingpin.New("wifid", "wireless control plane daemon")
	configPath := app.Flag("config", "path to a YAML configuration file").Short('c').String()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("wifid failed", zap.Error(err))
	}

	log.Info("wifid stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met := metrics.New(reg)

	simCfg := cfg.SimConfig()
	simCfg.Logger = log.Named("sim")
	p := sim.New(simCfg)
	defer p.Close()

	hub := notify.NewHub(cfg.Notify.QueueLen, met, log.Named("notify"))

	devices := registry.New(registry.Config{
		Provider:         p,
		Notifier:         hub,
		RadioTimeout:     cfg.Radio.Timeout,
		AssociateTimeout: cfg.Associate.Timeout,
		Metrics:          met,
		Log:              log.Named("registry"),
	})
	if err := devices.Load(ctx); err != nil {
		return fmt.Errorf("failed to load wiphys: %w", err)
	}

	scans := scan.New(scan.Config{
		Provider:     p,
		Timeout:      cfg.Scan.Timeout,
		RadioTimeout: cfg.Radio.Timeout,
		Metrics:      met,
		Log:          log.Named("scan"),
	})

	d := dispatch.New(dispatch.Config{
		Registry: devices,
		Scans:    scans,
		Events:   p.Events(),
		Strict:   cfg.Codec.Strict,
		MaxDepth: cfg.Codec.MaxDepth,
		Metrics:  met,
		Log:      log.Named("dispatch"),
	})

	l, err := ctlsock.Listen(cfg.Socket.Path)
	if err != nil {
		return fmt.Errorf("failed to listen on control socket: %w", err)
	}

	srv := ctlsock.NewServer(ctlsock.Config{
		Handler: d,
		Hub:     hub,
		Rate:    cfg.Socket.Rate,
		Burst:   cfg.Socket.Burst,
		Metrics: met,
		Log:     log.Named("ctlsock"),
	})

	log.Info("wifid starting",
		zap.String("socket", cfg.Socket.Path),
		zap.Int("wiphys", len(devices.Wiphys())),
		zap.Bool("strict", cfg.Codec.Strict),
		zap.Stringer("mangle", cfg.Variant()))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return d.Run(ctx) })
	eg.Go(func() error { return srv.Serve(ctx, l) })

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

		hs := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		eg.Go(func() error {
			log.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	err = eg.Wait()

	// Interfaces are torn down after the socket stops accepting requests.
	scans.Close()
	cctx, cancel := context.WithTimeout(context.Background(), cfg.Radio.Timeout)
	defer cancel()
	devices.Close(cctx)
	_ = os.Remove(cfg.Socket.Path)

	return err
}
