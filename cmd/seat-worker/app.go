package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"seatwatch/config"
	"seatwatch/internal/broker/kafka"
	"seatwatch/internal/cache/rediscache"
	"seatwatch/internal/integrations/classinfo"
	"seatwatch/internal/integrations/classinfo/fake"
	"seatwatch/internal/integrations/classinfo/scraperexec"
	"seatwatch/internal/mail/smtpmail"
	"seatwatch/internal/services/launchqueue"
	"seatwatch/internal/services/notifier"
	"seatwatch/internal/services/poller"
	"seatwatch/internal/storage/pgwatch"
)

type workerRepository interface {
	poller.Repository
	notifier.Repository
}

type workerFactories struct {
	newStorage         func(cfg *config.Config) (repo workerRepository, closeFn func(), err error)
	newProducer        func(cfg *config.Config) poller.Producer
	newRateLimiter     func(cfg *config.Config) launchqueue.RateLimiter
	newClassInfoClient func(cfg *config.Config) classinfo.Client
	newMailSender      func(cfg *config.Config) notifier.MailSender
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerRepository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgwatch.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) poller.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) launchqueue.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newClassInfoClient: func(cfg *config.Config) classinfo.Client {
			// The real scraper needs a script path; without one fall back to the
			// local fake so the worker still runs end to end.
			if cfg.SeatWatch.ScraperScript == "" {
				return fake.New()
			}
			return scraperexec.New(scraperexec.Config{
				Python:  cfg.SeatWatch.ScraperPython,
				Script:  cfg.SeatWatch.ScraperScript,
				Timeout: time.Duration(cfg.SeatWatch.LookupTimeoutSeconds) * time.Second,
			})
		},
		newMailSender: func(cfg *config.Config) notifier.MailSender {
			if cfg.SMTP.Host == "" {
				return nil
			}
			sender, err := smtpmail.New(smtpmail.Config{
				Host:     cfg.SMTP.Host,
				Port:     cfg.SMTP.Port,
				Username: cfg.SMTP.Username,
				Password: cfg.SMTP.Password,
				From:     cfg.SMTP.From,
			})
			if err != nil {
				slog.Error("smtp sender unavailable, notifications disabled", "error", err.Error())
				return nil
			}
			return sender
		},
	}
}

func RunSeatWorker(ctx context.Context, cfg *config.Config, f workerFactories, swaggerPath string) error {
	topic := cfg.Kafka.ClassCheckedTopicName
	if topic == "" {
		topic = "class.checked"
	}

	pollInterval := time.Duration(cfg.SeatWatch.PollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	batchSize := cfg.SeatWatch.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	batchDelay := time.Duration(cfg.SeatWatch.BatchDelaySeconds) * time.Second
	if batchDelay <= 0 {
		batchDelay = time.Second
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	client := f.newClassInfoClient(cfg)
	mailSender := f.newMailSender(cfg)

	queue := launchqueue.New(client, rl, launchqueue.Config{
		MinLaunchInterval:  time.Duration(cfg.SeatWatch.MinLaunchIntervalSeconds) * time.Second,
		MaxRetries:         cfg.SeatWatch.MaxLookupRetries,
		RateLimitPerMinute: int64(cfg.SeatWatch.LaunchRateLimitPerMinute),
	})
	go func() { _ = queue.Run(ctx) }()

	checker := notifier.New(queue, repo, mailSender)

	p := poller.New(repo, checker, producer, topic).
		WithSettings(pollInterval, batchSize, batchDelay)

	if swaggerPath != "" {
		go func() {
			err := runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr:    cfg.SeatWatch.WorkerHTTPAddr,
				swaggerPath: swaggerPath,
				poller:      p,
				queue:       queue,
				cfg:         cfg,
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("worker http server", "error", err.Error())
			}
		}()
	}

	return p.Run(ctx)
}
