package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	citymatch "github.com/citymatch/citymatch-go"
)

var (
	serveAddr     string
	serveSecret   string
	serveRealtime bool
)

// connectRealtime opens the push channel so backend changes invalidate the
// session cache as they happen.
func connectRealtime(ctx context.Context, sess *session) (*citymatch.RealtimeClient, error) {
	rt := citymatch.NewRealtimeClient(sess.client.BaseURL(), sess.Cache, citymatch.RealtimeConfig{
		Token:         sess.settings.Token,
		AutoReconnect: true,
		Logger:        sess.logger.With().Str("module", "realtime").Logger(),
	})
	rt.OnReconnecting(func(attempt int, delay time.Duration) {
		sess.logger.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("realtime reconnecting")
	})

	connectCtx, cancel := context.WithTimeout(ctx, sess.settings.Timeout)
	defer cancel()
	if err := rt.Connect(connectCtx); err != nil {
		return nil, fmt.Errorf("failed to connect realtime: %w", err)
	}
	return rt, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep the chat cache warm and accept backend webhooks",
	Long: "Run in the foreground, polling the chat list and applying signed backend webhooks\n" +
		"(POST /webhook) to the cache. Prometheus metrics are served on /metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := prometheus.NewRegistry()
		collector := citymatch.NewCollector(reg)

		sess := mustSession(citymatch.WithMetrics(collector))
		defer sess.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

		secret := firstNonEmpty(serveSecret, sess.settings.WebhookSecret)
		if secret != "" {
			wh, err := citymatch.NewWebhookReceiver(secret, sess.Cache, sess.logger.With().Str("module", "webhook").Logger())
			if err != nil {
				return err
			}
			mux.Handle("/webhook", wh.HTTPHandler())
		} else {
			sess.logger.Warn().Msg("no webhook secret configured; /webhook disabled")
		}

		if serveRealtime {
			rt, err := connectRealtime(ctx, sess)
			if err != nil {
				return err
			}
			defer rt.Disconnect()
		}

		w := sess.Chats.WatchChatList(func(ev citymatch.Event) {
			if ev.Snapshot.State == citymatch.Ready {
				chats, _ := ev.Snapshot.Value.([]citymatch.Chat)
				sess.logger.Info().Int("chats", len(chats)).Msg("chat list refreshed")
			}
		})
		defer w.Unsubscribe()

		srv := &http.Server{Addr: serveAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		errCh := make(chan error, 1)
		go func() {
			sess.logger.Info().Str("addr", serveAddr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveSecret, "secret", "", "Webhook HMAC secret (or CITYMATCH_WEBHOOK_SECRET)")
	serveCmd.Flags().BoolVar(&serveRealtime, "realtime", false, "Also listen for pushed updates over WebSocket")
	rootCmd.AddCommand(serveCmd)
}
