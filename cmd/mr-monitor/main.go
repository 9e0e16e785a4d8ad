package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mrmonitor/internal/actions"
	"mrmonitor/internal/config"
	"mrmonitor/internal/dashboard"
	"mrmonitor/internal/gitlab"
	"mrmonitor/internal/ledger"
	"mrmonitor/internal/monitor"
	"mrmonitor/internal/notify"
	"mrmonitor/internal/slack"
)

func main() {
	settingsPath := flag.String("settings", "settings.yaml", "path to the YAML settings file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// Tokens come from the environment; .env is a convenience for local runs.
	_ = godotenv.Load()

	if err := run(*settingsPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// run wires up all dependencies and blocks until shutdown.
// This is the composition root where everything is created and injected.
func run(settingsPath string, logger *slog.Logger) error {
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return err
	}
	repos, err := config.LoadRepositories(settings.RepositoriesFile)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		return errors.New("no repositories configured")
	}

	gitlabToken := os.Getenv("GITLAB_TOKEN")
	if gitlabToken == "" {
		return errors.New("GITLAB_TOKEN is not set")
	}
	slackToken := os.Getenv("SLACK_TOKEN")
	if slackToken == "" {
		logger.Warn("SLACK_TOKEN is not set, notifications disabled")
	}

	httpClient := &http.Client{Timeout: settings.RequestTimeout()}
	host := gitlab.NewClient(gitlab.Config{
		BaseURL: settings.GitLabURL,
		Token:   gitlabToken,
	}, httpClient, logger)
	chat := slack.NewClient(slack.Config{
		BaseURL: settings.SlackURL,
		Token:   slackToken,
	}, httpClient, logger)

	startupCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	authorID := 0
	if !settings.AllAuthors {
		user, err := host.CurrentUser(startupCtx)
		if err != nil {
			return err
		}
		authorID = user.ID
		logger.Info("authenticated", "username", user.Username)
	}

	for i := range repos {
		id, err := host.ResolveProject(startupCtx, repos[i].Owner, repos[i].Project)
		if err != nil {
			return err
		}
		repos[i].ProjectID = id
		logger.Info("repository resolved", "repo", repos[i].Name, "project_id", id)
	}

	led := ledger.Open(settings.LedgerPath, logger)
	cache := notify.LoadPersonCache(settings.PersonCachePath, logger)
	notifier := notify.NewNotifier(host, chat, led, cache, notify.Config{
		Channel:           settings.Channel,
		CoverageReviewers: settings.CoverageReviewers,
	}, logger)

	mon := monitor.New(repos, host, notifier, monitor.Config{
		PollInterval:   settings.PollInterval(),
		RequestTimeout: settings.RequestTimeout(),
		Workers:        settings.Workers,
		AuthorID:       authorID,
	}, logger)
	mon.Start()

	runner := actions.NewRunner(repos, logger)
	handler := dashboard.NewHandler(mon, runner, logger)

	server := &http.Server{
		Addr:    settings.ListenAddr,
		Handler: handler.Router(),
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("serving status", "addr", settings.ListenAddr)
		serverErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server failed", "error", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = server.Shutdown(shutdownCtx)

	mon.Stop()
	led.Flush()
	return nil
}
