package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"birthday_notifier/internal/api"
	"birthday_notifier/internal/config"
	"birthday_notifier/internal/domain"
	"birthday_notifier/internal/feature/birthday"
	"birthday_notifier/internal/feature/registration"
	"birthday_notifier/internal/logging"
	"birthday_notifier/internal/mail"
	"birthday_notifier/internal/metrics"
	"birthday_notifier/internal/schedule"
	"birthday_notifier/internal/store"
)

const (
	mongoConnectTimeout    = 10 * time.Second
	mongoIndexTimeout      = 5 * time.Second
	mongoDisconnectTimeout = 5 * time.Second
	statsTimeout           = 5 * time.Second
	smtpTimeout            = 30 * time.Second
	smtpVerifyTimeout      = 15 * time.Second
	httpShutdownTimeout    = 10 * time.Second
	scheduleStopTimeout    = 30 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	runOnce := flag.Bool("run-once", false, "run the birthday check once for today then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":       "startup",
		"mongo_db":    cfg.MongoDB,
		"mail_driver": cfg.MailDriver,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		fatal(logger, "mongo connection error", err)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
		cancelIndexes()
		fatal(logger, "mongo index setup error", err)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	logUserStats(logger, store.NewStatsProvider(mongoManager.Users()), cfg.Location())

	sender, err := newSender(cfg, logger)
	if err != nil {
		fatal(logger, "mail sender setup error", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	users := domain.NewUserRepository(mongoManager.Users())
	job := birthday.NewJob(users, sender, birthday.Config{Location: cfg.Location()}, m, logger)

	if *runOnce {
		report := job.Run(context.Background())
		closeMongo(logger, mongoManager)
		if report.Err != nil {
			os.Exit(1)
		}
		return
	}

	scheduler, err := schedule.New(cfg.BirthdayCron, cfg.Location(), func(ctx context.Context) {
		job.Run(ctx)
	}, logger)
	if err != nil {
		fatal(logger, "schedule setup error", err)
	}

	registrar := registration.NewRegistrar(users, m, logger)
	server := api.NewServer(api.Options{Port: cfg.HTTPPort, StaticDir: cfg.StaticDir}, registrar, mongoManager, m, logger)

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	scheduler.Start()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).WithField("event", "http_failed").Error("http server stopped unexpectedly")
		}
	}

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := server.Shutdown(httpCtx); err != nil {
		logger.WithError(err).Error("http shutdown error")
	}
	cancelHTTP()

	scheduleCtx, cancelSchedule := context.WithTimeout(context.Background(), scheduleStopTimeout)
	if err := scheduler.Stop(scheduleCtx); err != nil {
		logger.WithError(err).Warn("schedule stop error")
	}
	cancelSchedule()

	closeMongo(logger, mongoManager)

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

func newSender(cfg config.Config, logger *logrus.Entry) (mail.Sender, error) {
	switch cfg.MailDriver {
	case config.MailDriverLog:
		logger.WithField("event", "mail_driver").Warn("mail driver is log, birthday emails will not be delivered")
		return mail.NewLogSender(logger), nil
	case config.MailDriverSMTP:
		sender, err := mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			Timeout:  smtpTimeout,
		})
		if err != nil {
			return nil, err
		}

		verifyCtx, cancel := context.WithTimeout(context.Background(), smtpVerifyTimeout)
		defer cancel()
		if err := sender.Verify(verifyCtx); err != nil {
			logger.WithError(err).WithField("event", "mail_transport_error").Warn("smtp relay check failed, birthday emails may not be delivered")
		} else {
			logger.WithField("event", "mail_transport_ready").Info("smtp relay is ready")
		}
		return sender, nil
	default:
		return nil, errors.New("unknown mail driver " + cfg.MailDriver)
	}
}

func logUserStats(logger *logrus.Entry, stats *store.StatsProvider, loc *time.Location) {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	total, err := stats.CountUsers(ctx)
	if err != nil {
		logger.WithError(err).Warn("failed to count users")
		return
	}

	year := time.Now().In(loc).Year()
	notified, err := stats.CountNotified(ctx, year)
	if err != nil {
		logger.WithError(err).Warn("failed to count notified users")
		return
	}

	logger.WithFields(logging.Fields{
		"event":    "user_stats",
		"users":    total,
		"notified": notified,
		"year":     year,
	}).Info("registered users loaded")
}

func closeMongo(logger *logrus.Entry, mongoManager *store.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	defer cancel()

	if err := mongoManager.Close(ctx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
		return
	}
	logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
}

func fatal(logger *logrus.Entry, msg string, err error) {
	logger.WithError(err).Error(msg)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
