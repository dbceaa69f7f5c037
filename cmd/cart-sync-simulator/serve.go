package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/fairyhunter13/cart-sync-simulator/internal/http"
	"github.com/fairyhunter13/cart-sync-simulator/internal/obs"
	"github.com/fairyhunter13/cart-sync-simulator/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulated cart backend",
	Long: `Serve the cart REST contract (GET /cart/{ownerId}, POST /cart/{ownerId}/add,
PUT and DELETE /cart/{ownerId}/item/{variantId}, DELETE /cart/{ownerId}/clear)
plus the product catalog. The catalog is seeded from CATALOG_FILE when set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	obs.Logger.Info("service_starting")

	catalog := store.NewCatalog()
	if cfg.CatalogFile != "" {
		n, err := catalog.LoadYAML(cfg.CatalogFile)
		if err != nil {
			return err
		}
		obs.Logger.Info("catalog_loaded", "file", cfg.CatalogFile, "products", n)
	}
	app := httpapi.NewApp(cfg, catalog, store.NewCarts(catalog))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(app),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		obs.Logger.Info("http_listen", "addr", cfg.HTTPAddr, "auth", cfg.AuthSecret != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Logger.Error("http_server_error", "error", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		obs.Logger.Info("shutdown_signal")
		app.StartShutdown()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			obs.Logger.Error("http_shutdown_error", "error", err)
			return err
		}
		return nil
	})
	err := g.Wait()
	obs.Logger.Info("service_stopped")
	return err
}
