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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"apimon/internal/capture"
	"apimon/internal/monitor"
	"apimon/internal/proxy"
	"apimon/internal/storage"
	"apimon/internal/ui"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capturing proxy and the monitor UI",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetString("proxy-addr"); v != "" {
		cfg.ProxyAddr = v
	}
	if v, _ := cmd.Flags().GetString("ui-addr"); v != "" {
		cfg.UIAddr = v
	}
	if cmd.Flags().Changed("mitm") {
		cfg.MITM, _ = cmd.Flags().GetBool("mitm")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.SessionPath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()
	if reset, _ := cmd.Flags().GetBool("reset-session"); reset {
		if err := store.DeleteAll(); err != nil {
			return fmt.Errorf("reset session: %w", err)
		}
		logger.Info("session reset", zap.String("path", cfg.SessionPath))
	}

	mon := monitor.New(store.Entries(), monitor.Options{
		MaxItems: cfg.MaxItems,
		Log:      logger.Named("monitor"),
	})
	defer mon.Close()
	if err := mon.Load(ctx); err != nil {
		logger.Warn("starting with an empty session", zap.Error(err))
	}

	px := proxy.NewProxy(proxy.Options{
		MITM:         cfg.MITM,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Log:          logger.Named("proxy"),
	})
	listener := capture.NewListener(px, mon, capture.ListenerOptions{
		MaxBodyBytes: cfg.MaxBodyBytes,
		Log:          logger.Named("capture"),
	})
	listener.Start()
	defer func() {
		listener.Stop()
		listener.Wait()
	}()

	target := baseURL(cfg.UIAddr) + "/ui/"
	uiHandler, err := ui.NewServer(ui.Options{
		Monitor:         mon,
		Target:          target,
		DetailCacheSize: cfg.DetailCacheSize,
		Version:         version,
		Log:             logger.Named("ui"),
	})
	if err != nil {
		return err
	}

	proxySrv := &http.Server{Addr: cfg.ProxyAddr, Handler: px}
	uiSrv := &http.Server{Addr: cfg.UIAddr, Handler: uiHandler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listenAndServe(proxySrv) })
	g.Go(func() error { return listenAndServe(uiSrv) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(proxySrv.Shutdown(shutdownCtx), uiSrv.Shutdown(shutdownCtx))
	})

	logger.Info("apimon running",
		zap.String("proxy", cfg.ProxyAddr),
		zap.String("ui", target),
		zap.Bool("mitm", cfg.MITM))
	fmt.Fprintf(cmd.OutOrStdout(), "Proxy listening on %s; point your client's HTTP proxy at it.\n", cfg.ProxyAddr)
	fmt.Fprintf(cmd.OutOrStdout(), "Monitor: %s\n", target)

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

func listenAndServe(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return nil
}
