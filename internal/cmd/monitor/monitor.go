// Package monitor assembles and runs all components: the API client, the
// poller, the override manager, the Prometheus exporter, the health endpoint
// and the Slack bot.
package monitor

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clambin/go-common/slackbot"
	"github.com/clambin/go-common/taskmanager"
	"github.com/clambin/go-common/taskmanager/httpserver"
	promserver "github.com/clambin/go-common/taskmanager/prometheus"
	"github.com/intuis-community/intuis-monitor/internal/bot"
	"github.com/intuis-community/intuis-monitor/internal/collector"
	"github.com/intuis-community/intuis-monitor/internal/health"
	"github.com/intuis-community/intuis-monitor/internal/intuis"
	"github.com/intuis-community/intuis-monitor/internal/notifier"
	"github.com/intuis-community/intuis-monitor/internal/overrides"
	"github.com/intuis-community/intuis-monitor/internal/poller"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Cmd = cobra.Command{
	Use:   "monitor",
	Short: "Monitors Intuis Connect radiators",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		m, err := New(viper.GetViper(), cmd.Root().Version, slog.Default())
		if err != nil {
			return err
		}
		return m.Run(ctx)
	},
}

func New(cfg *viper.Viper, version string, logger *slog.Logger) (*taskmanager.Manager, error) {
	api := makeClient(cfg, logger)
	tasks, err := makeTasks(cfg, api, version, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return nil, err
	}
	return taskmanager.New(tasks...), nil
}

func makeClient(cfg *viper.Viper, logger *slog.Logger) *intuis.Client {
	opts := []intuis.Option{
		intuis.WithLogger(logger.With(slog.String("component", "intuis"))),
		intuis.WithHTTPClient(instrumentedHTTPClient()),
	}
	if homeID := cfg.GetString("intuis.home"); homeID != "" {
		opts = append(opts, intuis.WithHomeID(homeID))
	}
	if delay := cfg.GetDuration("ratelimit.min-delay"); delay > 0 {
		opts = append(opts, intuis.WithMinRequestDelay(delay))
	}
	if delay := cfg.GetDuration("ratelimit.delay"); delay > 0 {
		opts = append(opts, intuis.WithRateLimitDelay(delay))
	}
	if threshold := cfg.GetInt("ratelimit.threshold"); threshold > 0 {
		opts = append(opts, intuis.WithCircuitThreshold(threshold))
	}
	return intuis.New(cfg.GetString("intuis.username"), cfg.GetString("intuis.password"), opts...)
}

func makeTasks(cfg *viper.Viper, api *intuis.Client, version string, registry prometheus.Registerer, l *slog.Logger) ([]taskmanager.Task, error) {
	var tasks []taskmanager.Task

	// Slackbot
	var b *slackbot.SlackBot
	if token := cfg.GetString("slack.token"); token != "" {
		b = slackbot.New(
			token,
			slackbot.WithName("intuis-monitor "+version),
			slackbot.WithLogger(l.With(slog.String("component", "slackbot"))),
		)
	}

	// Notifiers
	notifiers := notifier.Notifiers{notifier.SLogNotifier{Logger: l.With(slog.String("component", "notifier"))}}
	if b != nil {
		notifiers = append(notifiers, &notifier.SlackNotifier{
			Logger:      l.With(slog.String("component", "notifier")),
			SlackSender: b,
		})
	}
	api.OnRateLimit(func(cooldown time.Duration) {
		circuitOpenCounter.Inc()
		notifiers.Notify("rate limited, pausing requests for " + cooldown.String())
	})

	// Override manager
	store, err := makeStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("overrides: %w", err)
	}
	mgr, err := overrides.New(api, store, overrideConfiguration(cfg), l.With(slog.String("component", "overrides")))
	if err != nil {
		return nil, fmt.Errorf("overrides: %w", err)
	}

	// Poller
	p := poller.New(api, mgr, poller.Configuration{
		Interval:        cfg.GetDuration("poller.interval"),
		MaxInterval:     cfg.GetDuration("poller.max-interval"),
		EnergyScale:     cfg.GetString("energy.scale"),
		EnergyResetHour: cfg.GetInt("energy.reset-hour"),
	}, l.With(slog.String("component", "poller")))
	p.Notifier = notifiers
	tasks = append(tasks, p)

	// Collector
	coll := &collector.Collector{Poller: p, Overrides: mgr, Logger: l.With(slog.String("component", "collector"))}
	registry.MustRegister(coll, requestCounter, requestDuration, circuitOpenCounter)
	tasks = append(tasks, coll)

	// Prometheus Server
	tasks = append(tasks, promserver.New(promserver.WithAddr(cfg.GetString("exporter.addr"))))

	// Health Endpoint
	h := health.New(p, l.With(slog.String("component", "health")))
	tasks = append(tasks, h)
	r := http.NewServeMux()
	r.Handle("/health", h)
	tasks = append(tasks, httpserver.New(cfg.GetString("health.addr"), r))

	// Slack bot
	if b != nil {
		tasks = append(tasks,
			b,
			bot.New(b, p, mgr, l.With(slog.String("component", "bot"))),
		)
	}

	return tasks, nil
}

func makeStore(cfg *viper.Viper) (overrides.Store, error) {
	path := cfg.GetString("overrides.path")
	switch backend := cfg.GetString("overrides.store"); backend {
	case "sqlite":
		return overrides.NewSQLiteStore(path)
	case "", "yaml":
		return overrides.YAMLStore{Path: path}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func overrideConfiguration(cfg *viper.Viper) overrides.Configuration {
	return overrides.Configuration{
		ManualDuration:     cfg.GetInt("overrides.manual-duration"),
		AwayDuration:       cfg.GetInt("overrides.away-duration"),
		BoostDuration:      cfg.GetInt("overrides.boost-duration"),
		FrostGuardDuration: cfg.GetInt("overrides.frostguard-duration"),
		AwayTemp:           cfg.GetFloat64("overrides.away-temp"),
		BoostTemp:          cfg.GetFloat64("overrides.boost-temp"),
		FrostGuardTemp:     cfg.GetFloat64("overrides.frostguard-temp"),
		Indefinite:         cfg.GetBool("overrides.indefinite"),
	}
}
