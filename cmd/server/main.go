package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/feichai0017/document-rag/api/handlers"
	"github.com/feichai0017/document-rag/api/routes"
	"github.com/feichai0017/document-rag/internal/utils/validator"
	"github.com/feichai0017/document-rag/pkg/logger"
	"github.com/feichai0017/document-rag/pkg/worker"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "document-rag",
	Short:        "Upload PDFs and ask questions about them",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the vector store from the documents in the index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.service.RebuildFromIndex(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("vector store rebuilt")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $RAG_CONFIG or config/config.yaml)")
	rootCmd.AddCommand(rebuildCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	// reconcile the stores before accepting work
	if err := a.service.Recover(ctx); err != nil {
		log.Error("Startup reconciliation failed", logger.Error(err))
		return err
	}

	documentWorker := worker.NewDocumentWorker(a.queue, a.service, log)
	if err := documentWorker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	defer documentWorker.Stop()

	gin.SetMode(a.conf.Server.Mode)
	v := validator.NewDocumentValidator(log, validatorConfig(a.conf))
	h := handlers.NewHandlers(a.service, v, a.conf.Server.MaxUploadBytes, log)
	r := gin.New()
	routes.SetupRoutes(r, h, a.conf.Server.CORSOrigins, log)

	srv := &http.Server{
		Addr:         a.conf.Server.Addr,
		Handler:      r,
		ReadTimeout:  a.conf.Server.ReadTimeout,
		WriteTimeout: a.conf.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("Server error", logger.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.conf.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
		return err
	}
	return nil
}
