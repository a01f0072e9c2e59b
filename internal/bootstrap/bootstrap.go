package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/notification_service/relay"
	"github.com/ondepub/autopost/internal/notification_service/relay/discord"
	"github.com/ondepub/autopost/internal/notification_service/relay/telegram"
	"github.com/ondepub/autopost/internal/platform/config"
	"github.com/ondepub/autopost/internal/platform/database"
	"github.com/ondepub/autopost/internal/platform/messagebroker"
	"github.com/ondepub/autopost/internal/publisher_service/provider"
	"github.com/ondepub/autopost/internal/queue_service/app"
	"github.com/ondepub/autopost/internal/queue_service/repository/jsonfile"
	"github.com/ondepub/autopost/internal/queue_service/repository/postgres"
)

// Options controls which outside connections Build opens.
type Options struct {
	AppName     string
	ConnectNATS bool
	// Channel overrides the configured chat channel, mainly for tests.
	Channel relay.ChatChannel
}

// Components is everything a binary needs to run the workflow.
type Components struct {
	Repo      core_domain.PostRepository
	QueueFile string // empty for the postgres backend
	Registry  *provider.Registry
	History   *app.CompletionHistory
	NATS      messagebroker.NATSClient
	Service   *app.ApprovalService
	Channel   relay.ChatChannel
	Relay     *relay.Relay

	closers []func()
}

// Close releases connections in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	switch cfg.QueueBackend {
	case "postgres":
		pool, err := database.NewDBPool(ctx, cfg.PostgresDSN, database.PoolOptions{
			MaxConns:        cfg.PostgresMaxConns,
			ApplicationName: opts.AppName,
			ConnectTimeout:  10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, pool.Close)
		repo := postgres.NewPgPostRepository(pool, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure queue schema: %w", err)
		}
		c.Repo = repo
		logger.Info("Queue backend: postgres")
	default:
		repo := jsonfile.NewPostRepository(cfg.QueueFile, logger)
		c.Repo = repo
		c.QueueFile = repo.Path()
		logger.Info("Queue backend: json file", "path", repo.Path())
	}

	c.NATS = messagebroker.NoopClient{}
	if opts.ConnectNATS && cfg.NATSUrl != "" {
		nc, err := messagebroker.NewNatsClient(cfg.NATSUrl, opts.AppName, logger)
		if err != nil {
			return nil, err
		}
		c.NATS = nc
		c.closers = append(c.closers, nc.Close)
	}
	events := app.NewEventPublisher(c.NATS, logger)

	var journal *app.DispatchJournal
	if cfg.DispatchLogFile != "" {
		j, err := app.NewDispatchJournal(cfg.DispatchLogFile)
		if err != nil {
			return nil, fmt.Errorf("open dispatch journal: %w", err)
		}
		journal = j
	}

	c.Registry = BuildPublishers(cfg, logger)
	c.History = app.NewCompletionHistory(cfg.HistorySize)
	dispatcher := app.NewDispatcher(c.Repo, c.Registry, c.History, events, app.DispatcherConfig{
		PublishTimeout: cfg.PublishTimeout,
		Journal:        journal,
	}, logger)
	c.Service = app.NewApprovalService(c.Repo, dispatcher, c.History, events, cfg.XDefaultAccount, logger)

	c.Channel = opts.Channel
	if c.Channel == nil {
		channel, err := BuildChannel(cfg, logger)
		if err != nil {
			return nil, err
		}
		c.Channel = channel
	}
	c.Relay = relay.NewRelay(c.Channel, c.Service, c.Repo, logger, relay.WithPendingGrace(cfg.NotifyGrace))
	c.Service.SetNotifier(c.Relay)

	ok = true
	return c, nil
}

// BuildPublishers registers one publisher per platform. dry_run mode swaps every vendor
// client for the mock publisher.
func BuildPublishers(cfg *config.Config, logger *slog.Logger) *provider.Registry {
	registry := provider.NewRegistry()
	if cfg.PublisherMode == "dry_run" {
		logger.Warn("Publisher mode is dry_run, nothing will be posted")
		registry.Register("x", provider.NewMockPublisher(logger, "x", false, 0), "twitter")
		registry.Register("instagram", provider.NewMockPublisher(logger, "instagram", false, 0), "ig")
		registry.Register("tiktok", provider.NewMockPublisher(logger, "tiktok", false, 0))
		return registry
	}

	accounts := make(map[string]provider.XAccount, len(cfg.XCredentials))
	for name, creds := range cfg.XCredentials {
		if !creds.Complete() {
			logger.Warn("X account has incomplete credentials", "account", name)
		}
		accounts[name] = provider.XAccount{
			APIKey:       creds.APIKey,
			APISecret:    creds.APISecret,
			AccessToken:  creds.AccessToken,
			AccessSecret: creds.AccessSecret,
			Handle:       name,
		}
	}
	x := provider.NewXPublisher(logger, cfg.XAPIBaseURL, accounts, cfg.XDefaultAccount, nil)
	ig := provider.NewInstagramPublisher(logger, cfg.InstagramGraphURL, cfg.InstagramAccountID, cfg.InstagramAccessToken,
		cfg.InstagramPollInterval, cfg.InstagramPollAttempts, nil)
	tiktok := provider.NewTikTokPublisher(logger, cfg.TikTokAPIURL, cfg.TikTokAccessToken, cfg.TikTokPrivacyLevel, cfg.MediaDir, nil)

	registry.Register("x", provider.WithRateLimit(x, cfg.PublishRatePerM), "twitter")
	registry.Register("instagram", provider.WithRateLimit(ig, cfg.PublishRatePerM), "ig")
	registry.Register("tiktok", provider.WithRateLimit(tiktok, cfg.PublishRatePerM))
	return registry
}

func BuildChannel(cfg *config.Config, logger *slog.Logger) (relay.ChatChannel, error) {
	switch strings.ToLower(cfg.ChatChannel) {
	case "telegram":
		return telegram.New(cfg.TelegramBotToken, cfg.TelegramChatID, "", nil, logger)
	case "discord":
		return discord.New(cfg.DiscordBotToken, cfg.DiscordChannelID, logger)
	default:
		return relay.NewLogChannel(logger), nil
	}
}
