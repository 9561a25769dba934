package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rewired-gh/proporacle/internal/alerts"
	"github.com/rewired-gh/proporacle/internal/logger"
	"github.com/rewired-gh/proporacle/internal/models"
	"github.com/rewired-gh/proporacle/internal/monitor"
	"github.com/rewired-gh/proporacle/internal/server"
	"github.com/spf13/cobra"
)

var configPath string

var (
	feedStat       string
	feedMinMinutes float64
	feedSeason     int

	reportProp    string
	reportRefresh bool

	alertStat       string
	alertDirection  string
	alertMinDelta   float64
	alertMinMinutes float64
	alertTopN       int
	alertSeason     int
)

var rootCmd = &cobra.Command{
	Use:   "proporacle",
	Short: "NBA player prop edge scanner and research reports",
	Long: `proporacle ranks players whose recent form diverges from their season average,
builds per-player prop reports from recent games and social sentiment, and sends
deduplicated edge alerts to Telegram.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, scheduled alert runs and Telegram commands",
	RunE:  runServe,
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Compute the edge feed once and print it as JSON",
	RunE:  runFeed,
}

var reportCmd = &cobra.Command{
	Use:   "report <player name>",
	Short: "Build a research report for one player and print it as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runReport,
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Execute one alert run and print its summary as JSON",
	RunE:  runAlerts,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (defaults plus PROP_ORACLE_* env when empty)")

	feedCmd.Flags().StringVar(&feedStat, "stat", "pts", "Measure: pts, reb, ast or pra")
	feedCmd.Flags().Float64Var(&feedMinMinutes, "min-minutes", 0, "Minimum minutes per game (0 uses edge.min_minutes)")
	feedCmd.Flags().IntVar(&feedSeason, "season", 0, "Season start year (0 uses edge.season)")

	reportCmd.Flags().StringVar(&reportProp, "prop", "points", "Prop measure: points, rebounds, assists or pra")
	reportCmd.Flags().BoolVar(&reportRefresh, "refresh", false, "Ignore a cached report")

	alertsCmd.Flags().StringVar(&alertStat, "stat", "", "Measure (empty uses alerts.stat)")
	alertsCmd.Flags().StringVar(&alertDirection, "direction", "", "over, under or both (empty uses alerts.direction)")
	alertsCmd.Flags().Float64Var(&alertMinDelta, "min-delta", 0, "Minimum |delta| (0 uses the per-measure default)")
	alertsCmd.Flags().Float64Var(&alertMinMinutes, "min-minutes", 0, "Minimum minutes per game (0 uses alerts.min_minutes)")
	alertsCmd.Flags().IntVar(&alertTopN, "top-n", 0, "Maximum candidates (0 uses alerts.top_n)")
	alertsCmd.Flags().IntVar(&alertSeason, "season", 0, "Season start year (0 uses edge.season)")

	rootCmd.AddCommand(serveCmd, feedCmd, reportCmd, alertsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runFeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	measure, err := models.ParseMeasure(feedStat)
	if err != nil {
		return err
	}
	minMinutes := feedMinMinutes
	if minMinutes <= 0 {
		minMinutes = cfg.Edge.MinMinutes
	}
	season := feedSeason
	if season <= 0 {
		season = cfg.Edge.Season
	}

	feed, err := a.engine.ComputeEdgeFeed(cmd.Context(), measure, minMinutes, season)
	if err != nil {
		return err
	}
	return printJSON(feed)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	measure, err := models.ParseMeasure(reportProp)
	if err != nil {
		return err
	}
	name := strings.Join(args, " ")
	return printJSON(a.research.Research(cmd.Context(), name, measure, reportRefresh))
}

func runAlerts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	stat := alertStat
	if stat == "" {
		stat = cfg.Alerts.Stat
	}
	measure, err := models.ParseMeasure(stat)
	if err != nil {
		return err
	}
	direction := alertDirection
	if direction == "" {
		direction = cfg.Alerts.Direction
	}

	summary, err := a.runner.Run(cmd.Context(), alerts.RunRequest{
		Measure:    measure,
		Direction:  models.ParseDirection(direction),
		MinMinutes: alertMinMinutes,
		MinDelta:   alertMinDelta,
		TopN:       alertTopN,
		Season:     alertSeason,
	})
	if summary != nil {
		if perr := printJSON(summary); perr != nil {
			return perr
		}
	}
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	srv := server.New(server.Config{
		Addr:              cfg.Server.Addr,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		DefaultSeason:     cfg.Edge.Season,
		DefaultMinMinutes: cfg.Edge.MinMinutes,
	}, a.engine, a.research, a.runner, a.store, a.metrics)

	var notifier monitor.Notifier
	if a.telegram != nil {
		notifier = a.telegram
		a.telegram.ListenForCommands(ctx, a.feedPreview)
	}

	var schedulers []*monitor.Scheduler
	if cfg.Alerts.Enabled {
		logger.Info("Starting alert runs (interval: %v, stat: %s, direction: %s, cooldown: %v)",
			cfg.Alerts.Interval, cfg.Alerts.Stat, cfg.Alerts.Direction, cfg.Alerts.Cooldown)
		schedulers = append(schedulers, monitor.New("alerts", a.scheduledAlertRun, cfg.Alerts.Interval, notifier))
	}
	schedulers = append(schedulers, monitor.New("purge", a.purgeExpired, cfg.Storage.PurgeInterval, nil))
	for _, s := range schedulers {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, cleaning up...")
	case err = <-serveErr:
		if err != nil {
			logger.Error("HTTP server failed: %v", err)
		}
	}

	for _, s := range schedulers {
		s.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("HTTP server shutdown: %v", serr)
	}
	logger.Info("Service stopped")
	return err
}

