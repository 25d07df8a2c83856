package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudflare/tableflip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/omalloc/imgproxy/conf"
	"github.com/omalloc/imgproxy/contrib/config"
	"github.com/omalloc/imgproxy/contrib/config/provider/file"
	"github.com/omalloc/imgproxy/contrib/log"
	"github.com/omalloc/imgproxy/contrib/transport"
	"github.com/omalloc/imgproxy/internal/cachestore"
	"github.com/omalloc/imgproxy/internal/dispatch"
	"github.com/omalloc/imgproxy/internal/errimage"
	"github.com/omalloc/imgproxy/internal/fetch"
	"github.com/omalloc/imgproxy/internal/flight"
	"github.com/omalloc/imgproxy/internal/hostcounter"
	"github.com/omalloc/imgproxy/internal/refgate"
	"github.com/omalloc/imgproxy/internal/resize"
	"github.com/omalloc/imgproxy/server"
)

var (
	// flagConf is the config flag.
	flagConf string = "config.yaml"
	// flagVerbose is the verbose flag.
	flagVerbose bool
)

func init() {
	flag.StringVar(&flagConf, "c", "config.yaml", "config file path")
	flag.BoolVar(&flagVerbose, "v", false, "enable verbose log")

	prometheus.Unregister(collectors.NewGoCollector())
	registerer := prometheus.WrapRegistererWithPrefix("imgproxy_", prometheus.DefaultRegisterer)
	registerer.MustRegister(collectors.NewGoCollector(collectors.WithGoCollectorMemStatsMetricsDisabled()))
}

func main() {
	flag.Parse()

	c := config.New[conf.Bootstrap](config.WithSource(file.NewSource(flagConf)))
	defer c.Close()

	bc := &conf.Bootstrap{}
	if err := c.Scan(bc); err != nil {
		log.Fatal(err)
	}

	if bc.Logger != nil {
		level := "info"
		if flagVerbose {
			level = "debug"
		} else if bc.Logger.Level != "" {
			level = bc.Logger.Level
		}
		log.SetLogger(log.New(log.Config{
			Level:      level,
			Path:       bc.Logger.Path,
			MaxSize:    bc.Logger.MaxSize,
			MaxAge:     bc.Logger.MaxAge,
			MaxBackups: bc.Logger.MaxBackups,
			Compress:   bc.Logger.Compress,
		}))
	}

	srv, cleanup, err := newServer(bc)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Errorf("server exited: %v", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil {
		log.Errorf("server shutdown: %v", err)
	}
}

// newServer wires every component spec.md names into the Request
// Dispatcher and hands it to the HTTP transport server, in the order the
// teacher's newApp constructs its storage/proxy/plugin graph before handing
// it to server.NewServer.
func newServer(bc *conf.Bootstrap) (transport.Server, func(), error) {
	flip, err := tableflip.New(tableflip.Options{
		PIDFile:        bc.PidFile,
		UpgradeTimeout: 120 * time.Second,
	})
	if err != nil {
		return nil, nil, err
	}

	if !flip.HasParent() && strings.HasSuffix(bc.Server.Addr, ".sock") {
		_ = os.Remove(bc.Server.Addr)
	}

	store := cachestore.New(bc.Cache.Root, cachestore.WithTTL(bc.Cache.TTL))

	engine := resize.NewEngine()
	pool := resize.New(resize.Config{
		Workers:      bc.Resize.Workers,
		RecycleAfter: bc.Resize.RecycleAfter,
		Engine:       engine,
	})

	fetcher := fetch.New(fetch.Config{
		MaxSize: bc.Upstream.MaxObjectSize,
		Store:   store,
		Resizer: pool,
	})

	errs, err := errimage.Load(errimage.Paths{
		TooLarge:   bc.Cache.Errors.TooLarge,
		BadFormat:  bc.Cache.Errors.BadFormat,
		CannotRead: bc.Cache.Errors.CannotRead,
	})
	if err != nil {
		return nil, nil, err
	}

	counter, err := hostcounter.New()
	if err != nil {
		return nil, nil, err
	}

	bypass := make(map[string]struct{}, len(bc.Cache.BypassHosts))
	for _, host := range bc.Cache.BypassHosts {
		bypass[strings.ToLower(host)] = struct{}{}
	}

	handler := &dispatch.Handler{
		Gate:        refgate.New(bc.Referer.Patterns),
		Store:       store,
		Fetcher:     fetcher,
		Flight:      flight.New[fetch.Result](nil),
		Errors:      errs,
		HostCounter: counter,
		BypassHosts: bypass,
	}

	srv := server.NewServer(flip, bc, handler)

	cleanup := func() {
		pool.Close()
		_ = counter.Close()
	}

	return srv, cleanup, nil
}
