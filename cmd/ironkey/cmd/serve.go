package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironkey/api"
	memtransport "github.com/jmcleod/ironkey/transport/memory"
)

var (
	addr     string
	tlsCert  string
	tlsKey   string
	tokenTTL time.Duration

	alertWebhook     string
	alertWebhookAuth string
)

// newServerHandler mounts the vault API under /api/v1 next to a health check.
func newServerHandler(backend api.Backend, opts ...api.Option) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Mount("/api/v1", api.New(backend, append([]api.Option{api.WithLogger(logger)}, opts...)...).Router())
	return r
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an in-memory vault server for development",
	Long: `Run the vault API backed by process memory. Accounts and entries are lost
when the server stops. The server only ever sees ciphertext and a hash of
the client's authentication value.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := memtransport.NewBackend(memtransport.WithTokenTTL(tokenTTL))
		if err != nil {
			return fmt.Errorf("failed to create backend: %w", err)
		}

		var apiOpts []api.Option
		if alertWebhook != "" {
			wh := api.NewAlertWebhook(alertWebhook, alertWebhookAuth, logger)
			defer wh.Close()
			apiOpts = append(apiOpts, api.WithAlertFunc(wh.Notify))
		}

		var tlsConfig *tls.Config
		if tlsCert != "" || tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		server := &http.Server{
			Addr:              addr,
			Handler:           newServerHandler(backend, apiOpts...),
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if tlsConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		out := cmd.OutOrStdout()
		printBanner(out, "Zero-Knowledge Vault Server")
		scheme := "http"
		if tlsConfig != nil {
			scheme = "https"
		} else {
			logger.Warn("serving without TLS, use --tls-cert and --tls-key outside local development")
		}
		fmt.Fprintf(out, "Listening on %s://%s/api/v1 (docs at /api/v1/docs)...\n", scheme, addr)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&addr, "addr", "a", "localhost:8080", "Address to listen on")
	serveCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serveCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serveCmd.Flags().StringVar(&alertWebhook, "alert-webhook", "", "URL that receives anomaly alerts as JSON")
	serveCmd.Flags().StringVar(&alertWebhookAuth, "alert-webhook-auth", "", `Header sent with alerts, as "Name: value"`)
	serveCmd.Flags().DurationVar(&tokenTTL, "token-ttl", 15*time.Minute, "Access token lifetime")
}
