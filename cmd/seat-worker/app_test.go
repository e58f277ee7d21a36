package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"seatwatch/config"
	"seatwatch/internal/integrations/classinfo"
	"seatwatch/internal/integrations/classinfo/fake"
	"seatwatch/internal/integrations/classinfo/scraperexec"
	"seatwatch/internal/models"
	"seatwatch/internal/services/launchqueue"
	"seatwatch/internal/services/notifier"
	"seatwatch/internal/services/poller"
	"seatwatch/internal/storage/pgwatch"
)

type fakeRepo struct{}

func (r *fakeRepo) ListActiveWatches(ctx context.Context, limit, offset int) ([]*models.Watch, error) {
	return []*models.Watch{}, nil
}
func (r *fakeRepo) ApplyCheckResult(ctx context.Context, upd pgwatch.CheckUpdate) error {
	return nil
}

type noopChecker struct{}

func (noopChecker) CheckWatch(ctx context.Context, w *models.Watch) (notifier.Outcome, error) {
	return notifier.Outcome{Status: models.SeatStatusClosed}, nil
}

type noopProducer struct{}

func (p noopProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	return nil
}

func TestDefaultWorkerFactories_SelectClassInfoClient(t *testing.T) {
	f := defaultWorkerFactories()

	cfgFake := &config.Config{}
	c1 := f.newClassInfoClient(cfgFake)
	_, ok := c1.(*fake.FakeClient)
	require.True(t, ok)

	cfgScraper := &config.Config{
		SeatWatch: config.SeatWatchConfig{
			ScraperScript:        "/opt/seatwatch/get_class_info.py",
			LookupTimeoutSeconds: 45,
		},
	}
	c2 := f.newClassInfoClient(cfgScraper)
	_, ok = c2.(*scraperexec.Client)
	require.True(t, ok)
}

func TestDefaultWorkerFactories_ProducerAndRateLimiter_NonNil(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	require.NotNil(t, f.newProducer(cfg))
	require.NotNil(t, f.newRateLimiter(cfg))
}

func TestDefaultWorkerFactories_MailSenderOptional(t *testing.T) {
	f := defaultWorkerFactories()

	require.Nil(t, f.newMailSender(&config.Config{}))

	cfgSMTP := &config.Config{
		SMTP: config.SMTPConfig{
			Host: "smtp.example.edu",
			Port: 587,
			From: "seatwatch@example.edu",
		},
	}
	require.NotNil(t, f.newMailSender(cfgSMTP))
}

func TestRunSeatWorker_ContextCanceled(t *testing.T) {
	calledClose := false

	f := workerFactories{
		newStorage: func(cfg *config.Config) (workerRepository, func(), error) {
			return &fakeRepo{}, func() { calledClose = true }, nil
		},
		newProducer: func(cfg *config.Config) poller.Producer {
			return noopProducer{}
		},
		newRateLimiter: func(cfg *config.Config) launchqueue.RateLimiter {
			return nil
		},
		newClassInfoClient: func(cfg *config.Config) classinfo.Client {
			return fake.New()
		},
		newMailSender: func(cfg *config.Config) notifier.MailSender {
			return nil
		},
	}

	cfg := &config.Config{
		Kafka:     config.KafkaConfig{ClassCheckedTopicName: "t"},
		SeatWatch: config.SeatWatchConfig{PollIntervalSeconds: 1},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunSeatWorker(ctx, cfg, f, "")
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}

func TestRunWorkerHTTPServer_Endpoints(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	q := launchqueue.New(fake.New(), nil, launchqueue.Config{})
	p := poller.New(&fakeRepo{}, noopChecker{}, nil, "t")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    "127.0.0.1:0",
			swaggerPath: sw,
			onListen:    func(addr string) { addrCh <- addr },
			poller:      p,
			queue:       q,
			cfg:         &config.Config{},
		})
	}()

	addr := <-addrCh

	for _, path := range []string{"/healthz", "/readyz", "/stats", "/config", "/swagger.json"} {
		resp, err := http.Get("http://" + addr + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, 200, resp.StatusCode, path)
	}

	resp, err := http.Post("http://"+addr+"/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	cancel()
	require.Error(t, <-errCh)
}
