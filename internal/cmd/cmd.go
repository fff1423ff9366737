package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/clambin/go-common/charmer"
	"github.com/intuis-community/intuis-monitor/internal/cmd/monitor"
	"github.com/intuis-community/intuis-monitor/internal/intuis"
	"github.com/intuis-community/intuis-monitor/internal/overrides"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFilename string
	RootCmd        = cobra.Command{
		Use:   "intuis-monitor",
		Short: "Monitor for Intuis Connect electric radiators",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			var opts slog.HandlerOptions
			if viper.GetBool("debug") {
				opts.Level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &opts)))
		},
	}
)

var args = charmer.Arguments{
	"debug":                {Default: false, Help: "Log debug messages"},
	"intuis.username":      {Default: "", Help: "Intuis Connect username"},
	"intuis.password":      {Default: "", Help: "Intuis Connect password"},
	"intuis.home":          {Default: "", Help: "Home id (default: first home on the account)"},
	"poller.interval":      {Default: 2 * time.Minute, Help: "Poller interval"},
	"poller.max-interval":  {Default: 10 * time.Minute, Help: "Maximum poller interval when rate limited"},
	"energy.scale":         {Default: "1day", Help: "Energy measurement scale"},
	"energy.reset-hour":    {Default: 2, Help: "Hour at which the daily energy counters reset"},
	"exporter.addr":        {Default: ":9090", Help: "Address of Prometheus exporter"},
	"health.addr":          {Default: ":8080", Help: "Address of /health endpoint"},
	"slack.token":          {Default: "", Help: "Slack token"},
	"overrides.store":      {Default: "yaml", Help: "Override store backend (yaml or sqlite)"},
	"overrides.path":       {Default: "overrides.yaml", Help: "Path of the override store"},
	"overrides.indefinite": {Default: false, Help: "Keep overrides in force until cancelled"},

	"overrides.manual-duration":     {Default: overrides.DefaultManualDuration, Help: "Manual override duration (minutes)"},
	"overrides.away-duration":       {Default: overrides.DefaultAwayDuration, Help: "Away preset duration (minutes)"},
	"overrides.boost-duration":      {Default: overrides.DefaultBoostDuration, Help: "Boost preset duration (minutes)"},
	"overrides.frostguard-duration": {Default: overrides.DefaultFrostGuardDuration, Help: "Frost protection duration (minutes)"},
	"overrides.away-temp":           {Default: overrides.DefaultAwayTemp, Help: "Away preset temperature (°C)"},
	"overrides.boost-temp":          {Default: overrides.DefaultBoostTemp, Help: "Boost preset temperature (°C)"},
	"overrides.frostguard-temp":     {Default: overrides.DefaultFrostGuardTemp, Help: "Frost protection temperature (°C)"},

	"ratelimit.min-delay": {Default: intuis.DefaultMinRequestDelay, Help: "Minimum delay between API requests"},
	"ratelimit.delay":     {Default: intuis.DefaultRateLimitDelay, Help: "Base backoff after a rate limited request"},
	"ratelimit.threshold": {Default: intuis.DefaultCircuitThreshold, Help: "Rate limited responses before the circuit breaker opens"},
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file")
	_ = charmer.SetPersistentFlags(&RootCmd, viper.GetViper(), args)

	RootCmd.AddCommand(&monitor.Cmd)
}

func initConfig() {
	if configFilename != "" {
		viper.SetConfigFile(configFilename)
	} else {
		viper.AddConfigPath("/etc/intuis-monitor/")
		viper.AddConfigPath("$HOME/.intuis-monitor")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("INTUIS_MONITOR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		slog.Warn("no config file found, using defaults", "err", err)
	}
}
