package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fahimimam/roomchat/chat"
	"github.com/fahimimam/roomchat/config"
)

func main() {
	// .env is optional, for local runs
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("unable to load config")
	}
	log := config.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var relay chat.Relay
	if cfg.RelayEnabled() {
		r, err := chat.NewRedisRelay(ctx, chat.RedisRelayOptions{
			Addr:          cfg.RedisAddr,
			DB:            cfg.RedisDB,
			ChannelPrefix: cfg.RedisChannelPrefix,
		}, log)
		if err != nil {
			log.WithError(err).Fatal("unable to connect the relay")
		}
		relay = r
		log.WithFields(logrus.Fields{
			"redis_addr": cfg.RedisAddr,
			"node_id":    cfg.NodeID,
		}).Info("relay enabled")
	}

	s := chat.NewServer(cfg, log, relay)

	// Bind every port before serving anything so a taken port fails the start.
	tcpListener := mustListen(log, "tcp", cfg.TCPAddr)
	httpListener := mustListen(log, "http", cfg.HTTPAddr)
	metricsListener := mustListen(log, "metrics", cfg.MetricsAddr)

	gctx, groupErr := start(ctx, cfg, log, s, listeners{
		tcp:     tcpListener,
		http:    httpListener,
		metrics: metricsListener,
	})

	go func() {
		<-gctx.Done()
		if ctx.Err() != nil {
			return
		}
		// A listener failed on its own. Run the same shutdown as a signal would.
		log.Error("a listener stopped unexpectedly, shutting down")
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat": func(ctx context.Context) error {
				log.Info("graceful shutdown initiated")
				cancel()
				err := <-groupErr
				if err != nil {
					log.WithError(err).Error("server stopped unexpectedly")
				}
				return errors.Join(err, s.Shutdown(ctx))
			},
		},
	)

	exitCode := <-wait
	log.WithField("exit_code", exitCode).Info("server exited")
	os.Exit(exitCode)
}

type listeners struct {
	tcp     net.Listener
	http    net.Listener
	metrics net.Listener
}

// start serves s on ls. The returned context ends when ctx does or when any
// listener fails; the channel then yields the first failure, or nil.
func start(ctx context.Context, cfg config.Config, log logrus.FieldLogger, s *chat.Server, ls listeners) (context.Context, <-chan error) {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(gctx) })
	g.Go(func() error { return s.ServeTCP(gctx, ls.tcp) })
	g.Go(func() error {
		log.WithField("addr", ls.http.Addr().String()).Info("started http server")
		return serve(httpServer, ls.http)
	})
	g.Go(func() error {
		log.WithField("addr", ls.metrics.Addr().String()).Info("started metrics server")
		return serve(metricsServer, ls.metrics)
	})
	g.Go(func() error {
		// http.Server does not watch gctx; stop both once any member exits.
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return errors.Join(httpServer.Shutdown(sctx), metricsServer.Shutdown(sctx))
	})

	groupErr := make(chan error, 1)
	go func() { groupErr <- g.Wait() }()
	return gctx, groupErr
}

func mustListen(log logrus.FieldLogger, name, addr string) net.Listener {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.WithFields(logrus.Fields{
			"listener": name,
			"addr":     addr,
			"error":    err.Error(),
		}).Fatal("unable to bind listener")
	}
	return ln
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
