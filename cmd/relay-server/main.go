package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/privmsg/relay/api/blobs"
	relayhttp "github.com/privmsg/relay/api/http"
	"github.com/privmsg/relay/config"
	"github.com/privmsg/relay/observability"
	"github.com/privmsg/relay/observability/prom"
	"github.com/privmsg/relay/realtime/registry"
	"github.com/privmsg/relay/relay"
	"github.com/privmsg/relay/storage"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	cfg, err := config.Load(args, stderr)
	if err != nil {
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, nil))

	store, err := storage.Open(cfg.StorageDatabasePath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer store.Close()

	blobStore, err := blobs.Open(cfg.StorageFilesPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	var observer observability.RelayObserver = observability.NoopRelayObserver
	var metricsSrv *http.Server
	var metricsLn net.Listener
	if cfg.MetricsListen != "" {
		promReg := prom.NewRegistry()
		relayObs := prom.NewRelayObserver(promReg)
		observer = relayObs

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", prom.Handler(promReg))
		metricsLn, err = net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		metricsSrv = relayhttp.NewServer(cfg.MetricsListen, metricsMux)
		go func() {
			if err := metricsSrv.Serve(metricsLn); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	reaper := relay.NewReaper(store, observer, logger, cfg.CleanupInterval(), func(fileIDs []string) {
		for _, fileID := range fileIDs {
			if err := blobStore.Delete(fileID); err != nil {
				logger.Error("delete expired file blob", "error", err, "file_id", fileID)
			}
		}
	})
	reaper.Start()
	defer reaper.Stop()

	reg := registry.New(observer)

	deps := relayhttp.Deps{
		Store:    store,
		Registry: reg,
		Blobs:    blobStore,
		Observer: observer,
		Logger:   logger,
		Config:   cfg,
	}
	mux := relayhttp.NewMux(deps)

	addr := net.JoinHostPort(cfg.ServerHost, fmt.Sprintf("%d", cfg.ServerPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	srv := relayhttp.NewServer(addr, mux)
	useTLS := cfg.TLSCertPath != "" && cfg.TLSKeyPath != ""
	if useTLS {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	stdLogger := log.New(stderr, "", log.LstdFlags)
	go func() {
		var err error
		if useTLS {
			err = srv.ServeTLS(ln, cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			stdLogger.Fatal(err)
		}
	}()

	logger.Info("relay server listening", "addr", ln.Addr().String())

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}
	return 0
}
