package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mixelka/codewatch/internal/config"
	"github.com/mixelka/codewatch/internal/credential"
	"github.com/mixelka/codewatch/internal/mailbox"
	"github.com/mixelka/codewatch/internal/manual"
	"github.com/mixelka/codewatch/internal/multisource"
	"github.com/mixelka/codewatch/internal/notify"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger. Logs go to stderr; stdout carries only the code.
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting verification code retrieval", "mode", cfg.Mode, "timeout", cfg.Timeout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	if len(os.Args) > 1 && os.Args[1] == "store-secret" {
		err := storeSecret(ctx, cfg, os.Args[2:])
		stop()
		if err != nil {
			logger.Error("failed to store secret", "error", err)
			os.Exit(1)
		}
		logger.Info("secret stored in keyring", "source", os.Args[2])
		return
	}

	// Create Telegram relay (optional)
	var relay *notify.Telegram
	if cfg.TelegramEnabled() {
		relay, err = notify.NewTelegram(notify.TelegramConfig{
			Token:   cfg.TelegramToken,
			ChatID:  cfg.TelegramChatID,
			TopicID: cfg.TelegramTopicID,
			Address: cfg.RecoveryAddress,
		}, logger)
		if err != nil {
			logger.Error("failed to create telegram relay", "error", err)
			stop()
			os.Exit(1)
		}
		logger.Info("telegram relay enabled", "chat_id", cfg.TelegramChatID)
	}

	source, code, err := retrieve(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to retrieve verification code", "error", err)
		if relay != nil {
			if err := relay.SendFailure(context.Background(), err); err != nil {
				logger.Warn("failed to relay failure", "error", err)
			}
		}
		stop()
		os.Exit(1)
	}

	logger.Info("verification code retrieved", "source", source)
	if relay != nil {
		if err := relay.SendCode(ctx, source, code); err != nil {
			logger.Warn("failed to relay code", "error", err)
		}
	}

	// Handed to the UI driver
	fmt.Println(code)
	stop()
}

// retrieve returns the winning source name and the code
func retrieve(ctx context.Context, cfg *config.Config, logger *slog.Logger) (string, string, error) {
	if cfg.Mode == config.ModeManual {
		code, err := manual.NewPrompter(cfg.RecoveryAddress, logger).WaitForCode(ctx, cfg.Timeout)
		return "manual", code, err
	}

	if cfg.KeyringEnabled {
		store, err := credential.Open(keyringDir())
		if err != nil {
			logger.Warn("keyring unavailable", "error", err)
		} else {
			for _, err := range cfg.FillSecrets(store.Lookup) {
				logger.Warn("secret not found in keyring", "error", err)
			}
		}
	}

	// An unresolved source keeps no host and is dropped on connect
	for _, err := range cfg.FillHosts(mailbox.ResolveIMAPServer) {
		logger.Warn("could not resolve IMAP server", "error", err)
	}

	primary, secondary := cfg.Sources()
	watcher := multisource.New(multisource.Config{
		Primary:   primary,
		Secondary: secondary,
		Mailbox: mailbox.Options{
			Sender:        cfg.Sender,
			Lookback:      cfg.Lookback,
			PollInterval:  cfg.PollInterval,
			MarkSeen:      cfg.MarkSeen,
			RollingWindow: cfg.RollingWindow,
			Dialer:        &mailbox.IMAPDialer{Timeout: cfg.IMAPDialTimeout},
		},
		RoundTimeout: cfg.RoundTimeout,
		PollInterval: cfg.PollInterval,
	}, logger)
	defer watcher.Close()

	if err := watcher.Connect(ctx); err != nil {
		return "", "", err
	}

	result, err := watcher.WaitForResult(ctx, cfg.Timeout)
	if err != nil {
		return "", "", err
	}
	return result.Source, result.Code, nil
}

// storeSecret prompts for the password of a configured source and saves it
// in the keyring, where KEYRING_ENABLED runs pick it up
func storeSecret(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: codewatch store-secret %s|%s", config.SourcePrimary, config.SourceSecondary)
	}

	name := args[0]
	creds, err := cfg.Source(name)
	if err != nil {
		return err
	}
	if creds.Username == "" {
		return fmt.Errorf("%s source has no username configured", name)
	}

	secret, err := manual.PromptSecret(ctx, fmt.Sprintf("IMAP password for the %s mailbox", name))
	if err != nil {
		return err
	}

	store, err := credential.Open(keyringDir())
	if err != nil {
		return err
	}
	return store.Save(creds.Username, secret)
}

func keyringDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "codewatch")
	}
	return filepath.Join(dir, "codewatch", "keyring")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
