package main

import (
	"context"
	"fmt"

	"github.com/livelaunch/platform/pkg/cache"
	"github.com/livelaunch/platform/pkg/calendar"
	"github.com/livelaunch/platform/pkg/common/config"
	"github.com/livelaunch/platform/pkg/common/database"
	"github.com/livelaunch/platform/pkg/common/kafka"
	"github.com/livelaunch/platform/pkg/common/logger"
	"github.com/livelaunch/platform/pkg/common/models"
	"github.com/livelaunch/platform/pkg/diff"
	"github.com/livelaunch/platform/pkg/feed"
	"github.com/livelaunch/platform/pkg/media"
	"github.com/livelaunch/platform/pkg/notify"
	"github.com/livelaunch/platform/pkg/reconcile"
	"github.com/livelaunch/platform/pkg/subscription"
)

// webhookRate caps outbound webhook posts per second across all destinations.
const webhookRate = 5

// app is the wired object graph shared by serve and reconcile.
type app struct {
	cfg       *config.Config
	store     cache.Store
	directory subscription.Directory
	producer  *kafka.Producer
	gate      *media.Gate

	engine *reconcile.Engine
	// sweep is nil when no content feed channels are configured.
	sweep *reconcile.MediaSweep

	closers []func() error
}

type storage struct {
	store     cache.Store
	directory subscription.Directory
	cacheRepo *cache.Repository
	subRepo   *subscription.Repository
}

func openStorage(cfg *config.Config) (*storage, error) {
	switch cfg.CacheBackend {
	case "memory":
		logger.Log.Warn("Using in-memory cache; state is lost on restart")
		return &storage{store: cache.NewMemoryStore(), directory: subscription.NewMemory()}, nil
	case "postgres", "":
		db, err := database.GetPostgres(cfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s := &storage{cacheRepo: cache.NewRepository(db), subRepo: subscription.NewRepository(db)}
		s.store, s.directory = s.cacheRepo, s.subRepo
		return s, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
}

func (s *storage) migrate() error {
	if s.cacheRepo != nil {
		if err := s.cacheRepo.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate cache tables: %w", err)
		}
	}
	if s.subRepo != nil {
		if err := s.subRepo.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate workspace tables: %w", err)
		}
	}
	return nil
}

func newApp(cfg *config.Config) (*app, error) {
	st, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}
	if err := st.migrate(); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: st.store, directory: st.directory}
	if st.cacheRepo != nil {
		a.closers = append(a.closers, database.ClosePostgres)
	}

	var claimer media.Claimer
	switch cfg.DedupBackend {
	case "redis":
		claimer = media.NewRedisClaimer(database.GetRedis(cfg), cfg.MediaClaimTTL)
		a.closers = append(a.closers, database.CloseRedis)
	default:
		claimer = media.NewLocalClaimer()
	}
	gate := media.NewGate(st.store, claimer, cfg.MediaExcludedIDs...)
	a.gate = gate
	if len(cfg.MediaExcludedIDs) > 0 {
		logger.Log.WithField("count", len(cfg.MediaExcludedIDs)).Info("Excluding media ids from announcements")
	}

	var publisher reconcile.Publisher
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaEventsTopic != "" {
		a.producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		a.closers = append(a.closers, a.producer.Close)
		publisher = a.producer
	}

	var channels media.ChannelResolver
	if cfg.YouTubeAPIKey != "" {
		channels = media.NewYouTubeResolver(cfg.YouTubeAPIKey, cfg.HTTPTimeout)
	} else {
		logger.Log.Warn("YOUTUBE_API_KEY not set, media announcements carry no channel identity")
	}

	notifier := notify.NewDispatcher(
		notify.NewWebhookDeliverer(cfg.HTTPTimeout, webhookRate),
		st.directory,
		gate,
		notify.WithConcurrency(cfg.DispatchConcurrency),
		notify.WithAgencies(st.store),
	)

	differ := diff.NewDiffer(models.StatusSetFromInts(cfg.TerminalStatuses), models.StatusSetFromInts(cfg.NotifyStatuses))
	syncer := calendar.NewSynchronizer(
		calendar.NewDiscordClient(cfg.DiscordToken, cfg.DiscordAPIBase, cfg.HTTPTimeout),
		st.store,
		st.directory,
		calendar.WithPolicy(calendar.Policy{
			Lookahead:   cfg.CalendarLookahead,
			SlipHorizon: cfg.CalendarSlipHorizon,
			Epsilon:     cfg.CalendarEpsilon,
		}),
		calendar.WithConcurrency(cfg.DispatchConcurrency),
	)

	opts := []reconcile.Option{reconcile.WithMediaWindow(cfg.MediaWindow)}
	if publisher != nil {
		opts = append(opts, reconcile.WithPublisher(publisher))
	}
	if st.subRepo != nil {
		opts = append(opts, reconcile.WithHousekeeping("workspace_cleanup", func(ctx context.Context) error {
			n, err := st.subRepo.Cleanup(ctx)
			if n > 0 {
				logger.Log.WithField("removed", n).Info("Removed fully disabled workspaces")
			}
			return err
		}))
	}
	if st.cacheRepo != nil && cfg.SentMediaRetention > 0 {
		logger.Log.WithField("retention", cfg.SentMediaRetention).Warn("Pruning sent media markers; pruned ids can be announced again")
		opts = append(opts, reconcile.WithHousekeeping("sent_media_cleanup", func(ctx context.Context) error {
			return st.cacheRepo.CleanupSentMedia(ctx, cfg.SentMediaRetention)
		}))
	}

	ll2 := feed.NewLL2Client(cfg.LL2BaseURL, cfg.LL2Token, cfg.HTTPTimeout, feed.WithLL2RequestsPerMinute(cfg.LL2RequestsPerMinute))
	a.engine = reconcile.NewEngine(st.store, ll2, differ, syncer, notifier, gate, channels, opts...)

	if len(cfg.YouTubeChannels) > 0 {
		rss := feed.NewYouTubeRSS(cfg.YouTubeChannels, cfg.RSSWindow, cfg.HTTPTimeout)
		a.sweep = reconcile.NewMediaSweep(rss, gate, channels, notifier, publisher)
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Log.WithError(err).Warn("Failed to close resource")
		}
	}
}
