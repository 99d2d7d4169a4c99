// Package run implements the run command: it starts the orchestrator and
// drives the bus from a ticker until interrupted.
package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/go-lynx/nexus"
	"github.com/go-lynx/nexus/cmd/nexus/internal/banner"
	"github.com/go-lynx/nexus/cmd/nexus/internal/demo"
	"github.com/go-lynx/nexus/config"
	"github.com/go-lynx/nexus/events"
	"github.com/go-lynx/nexus/log"
)

// CmdRun represents the run command.
var CmdRun = &cobra.Command{
	Use:   "run",
	Short: "Start the demo modules and drive the event loop",
	Example: `  # Run until interrupted, reading config from ./conf
  nexus run --conf ./conf

  # Run 50 ticks of 100ms and expose metrics
  nexus run --ticks 50 --tick 100ms --metrics-addr :9090`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return Run(cmd.Context(), flags)
	},
}

// Options holds the run command flags.
type Options struct {
	Conf        string
	Tick        time.Duration
	Ticks       int
	MetricsAddr string
}

var flags Options

func init() {
	CmdRun.Flags().StringVarP(&flags.Conf, "conf", "c", "", "config file or directory")
	CmdRun.Flags().DurationVar(&flags.Tick, "tick", time.Second, "event loop interval")
	CmdRun.Flags().IntVar(&flags.Ticks, "ticks", 0, "stop after this many ticks, 0 runs until interrupted")
	CmdRun.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve /metrics on this address")
}

// LoadStore opens the config at path, or an empty in-memory store when path
// is empty.
func LoadStore(path string) (config.Store, func(), error) {
	if path == "" {
		return config.NewMemoryStore(nil), func() {}, nil
	}
	s, err := config.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

// Run initializes the orchestrator, ticks it and shuts it down.
func Run(ctx context.Context, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Tick <= 0 {
		return errors.New("tick must be positive")
	}
	store, closeStore, err := LoadStore(opts.Conf)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := banner.Print(os.Stdout, store); err != nil {
		log.Warnw("msg", "banner skipped", "error", err)
	}

	reg := prometheus.NewRegistry()
	o := nexus.New(nexus.WithConfig(store), nexus.WithCatalog(demo.Catalog(reg)))
	if err := o.Initialize(ctx); err != nil {
		_ = o.Shutdown(context.Background())
		return err
	}

	var srv *http.Server
	if opts.MetricsAddr != "" {
		srv = &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("msg", "metrics server stopped", "error", err)
			}
		}()
		log.Infow("msg", "serving metrics", "addr", opts.MetricsAddr)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	n := Loop(ctx, o, opts.Tick, opts.Ticks)
	log.Infow("msg", "event loop stopped", "ticks", n)

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}
	return o.Shutdown(context.Background())
}

// Loop publishes a demo.Tick and drains deferred deliveries once per
// interval. It returns the number of ticks run.
func Loop(ctx context.Context, o *nexus.Orchestrator, interval time.Duration, limit int) int {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	n := 0
	for limit <= 0 || n < limit {
		select {
		case <-ctx.Done():
			return n
		case at := <-ticker.C:
			n++
			events.Publish(o.Bus(), demo.Tick{N: n, At: at})
			o.ProcessPending()
		}
	}
	return n
}
