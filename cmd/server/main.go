package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/minichat/internal/server"
)

const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:          "minichat",
	Short:        "Real-time chat relay with history, roster and uploads",
	SilenceUsage: true,
	RunE:         runServer,
}

var (
	cfg            = server.NewConfigFromEnv()
	flagOrigins    string
	flagRefillSecs int
	flagLogLevel   string
	flagLogPretty  bool
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Port, "port", cfg.Port, "listen address (env SERVER_PORT)")
	flags.StringVar(&flagOrigins, "allowed-origins", strings.Join(cfg.AllowedOrigins, ","), "comma separated WebSocket origins, * for any (env ALLOWED_ORIGINS)")
	flags.Int64Var(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "maximum inbound frame size in bytes (env MAX_MESSAGE_SIZE)")
	flags.IntVar(&cfg.RateLimit.Burst, "rate-limit-burst", cfg.RateLimit.Burst, "frames a session may send per refill interval (env RATE_LIMIT_BURST)")
	flags.IntVar(&flagRefillSecs, "rate-limit-refill", int(cfg.RateLimit.RefillInterval/time.Second), "rate limit refill interval in seconds (env RATE_LIMIT_REFILL_INTERVAL)")
	flags.IntVar(&cfg.HistoryLimit, "history-limit", cfg.HistoryLimit, "messages replayed to joining clients (env HISTORY_LIMIT)")
	flags.IntVar(&cfg.SendBufferSize, "send-buffer", cfg.SendBufferSize, "queued outbound frames per client before it is dropped (env SEND_BUFFER_SIZE)")
	flags.StringVar(&cfg.StaticDir, "static-dir", cfg.StaticDir, "directory served at /static/ (env STATIC_DIR)")
	flags.Int64Var(&cfg.MaxUploadBytes, "max-upload-bytes", cfg.MaxUploadBytes, "maximum upload size in bytes (env MAX_UPLOAD_BYTES)")
	flags.StringVar(&cfg.DefaultName, "default-name", cfg.DefaultName, "display name for clients that send none (env DEFAULT_NAME)")
	flags.StringVar(&flagLogLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level: debug, info, warn, error (env LOG_LEVEL)")
	flags.BoolVar(&flagLogPretty, "log-pretty", os.Getenv("LOG_PRETTY") != "", "human readable console logs (env LOG_PRETTY)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute minichat command")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg.AllowedOrigins = server.ParseOrigins(flagOrigins)
	if flagRefillSecs > 0 {
		cfg.RateLimit.RefillInterval = time.Duration(flagRefillSecs) * time.Second
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chatServer := server.New(cfg)
	httpServer := server.CreateServer(chatServer.Config().Port, chatServer.Routes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("[chat] shutdown signal received")
	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("[chat] http shutdown incomplete")
	}
	if err := chatServer.Shutdown(shutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("[chat] session shutdown incomplete")
	}
	log.Info().Msg("[chat] shutdown complete")
	return nil
}

func setupLogging() {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if flagLogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
