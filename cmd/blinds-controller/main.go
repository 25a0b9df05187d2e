package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thatsimonsguy/blinds-controller/db"
	"github.com/thatsimonsguy/blinds-controller/internal/api"
	"github.com/thatsimonsguy/blinds-controller/internal/backend"
	"github.com/thatsimonsguy/blinds-controller/internal/backendsync"
	"github.com/thatsimonsguy/blinds-controller/internal/broadcast"
	"github.com/thatsimonsguy/blinds-controller/internal/config"
	"github.com/thatsimonsguy/blinds-controller/internal/datadog"
	"github.com/thatsimonsguy/blinds-controller/internal/env"
	"github.com/thatsimonsguy/blinds-controller/internal/gpio"
	"github.com/thatsimonsguy/blinds-controller/internal/hardware"
	"github.com/thatsimonsguy/blinds-controller/internal/intake"
	"github.com/thatsimonsguy/blinds-controller/internal/logging"
	"github.com/thatsimonsguy/blinds-controller/internal/messaging"
	"github.com/thatsimonsguy/blinds-controller/internal/model"
	"github.com/thatsimonsguy/blinds-controller/internal/motion"
	"github.com/thatsimonsguy/blinds-controller/internal/notifications"
	"github.com/thatsimonsguy/blinds-controller/internal/scheduler"
	"github.com/thatsimonsguy/blinds-controller/internal/state"
	"github.com/thatsimonsguy/blinds-controller/internal/status"
	"github.com/thatsimonsguy/blinds-controller/internal/temperature"
	"github.com/thatsimonsguy/blinds-controller/system/shutdown"
)

func main() {
	cfg := config.Load()
	env.Cfg = &cfg
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("device_id", cfg.DeviceID).
		Int("blinds", len(cfg.Blinds)).
		Msg("Starting blinds controller")

	datadog.InitMetrics()
	notifications.Init()

	gpio.SetSafeMode(cfg.SafeMode)
	if cfg.SafeMode {
		log.Warn().Msg("SAFE MODE ENABLED, motors and GPIO writes are disabled")
	}

	var bus hardware.Bus = hardware.NullBus{}
	if !cfg.SafeMode {
		if err := gpio.ValidateStartupPins(startupPins(&cfg)); err != nil {
			log.Fatal().Err(err).Msg("Refusing to drive motors due to unsafe pin states")
		}
		mcp, err := hardware.OpenMCP(mcpConfig(&cfg))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize motor hardware")
		}
		bus = mcp
	}
	bindings := bindingsFor(&cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := db.Open(cfg.DBFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBFile).Msg("Failed to open local cache")
	}

	client := backend.NewClient(cfg.APIURL, cfg.APIUsername, cfg.APIPassword, cfg.HTTPTimeout())
	boot, err := backend.FetchBootData(ctx, client, cache, cfg.BootFetchAttempts, backend.BootRetry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to obtain blind configuration")
	}

	table := state.NewTable(seedsFor(&cfg, boot.Blinds))
	in, err := intake.New(table, cfg.TopicRoot)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start command intake")
	}

	identity := status.Identity{ID: cfg.DeviceID, Name: cfg.DeviceName, Type: cfg.DeviceType}
	statusTopic := status.Topic(cfg.TopicRoot, cfg.DeviceID)
	led := gpio.NewStatusLED(cfg.StatusLEDGPIO)
	led.Set(false)

	mq := messaging.New(messaging.Options{
		BrokerURL:        boot.Device.BrokerURL(),
		ClientID:         cfg.MQTTClientPrefix + cfg.DeviceID,
		Username:         boot.Device.MQTTUser,
		Password:         boot.Device.MQTTPassword,
		WillTopic:        statusTopic,
		WillPayload:      status.OfflinePayload(identity),
		OnConnect:        func() { led.Set(true) },
		OnConnectionLost: func(error) { led.Set(false) },
	})
	if err := mq.Subscribe(in.SetTopic(), func(topic string, payload []byte) {
		_ = in.HandleMessage(topic, payload)
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to commands")
	}
	mq.Connect()

	bc := broadcast.New(table, mq, cfg.TopicRoot)
	events := func(ev model.Event) {
		bc.PublishEvent(ev)
		notifications.NotifyEvent(ev)
	}

	retry := &backend.Retrier{
		Initial:    cfg.RetryInitial(),
		Max:        cfg.RetryMax(),
		MaxElapsed: cfg.RetryMaxElapsed(),
	}
	calibrations := backendsync.NewCalibrationStore(client, retry, cache, events)
	syncer := backendsync.New(ctx, table, client, retry, cache, events)

	// hooks run last registered first, so the cache closes after pending
	// writes return and the motors are stopped before anything else
	shutdown.OnShutdown(func() error {
		syncer.Wait()
		calibrations.Wait()
		return cache.Close()
	})
	shutdown.OnShutdown(func() error {
		err := mq.PublishNow(statusTopic, true, status.OfflinePayload(identity), time.Second)
		mq.Disconnect()
		led.Set(false)
		return err
	})
	if c, ok := bus.(io.Closer); ok {
		shutdown.OnShutdown(c.Close)
	}
	shutdown.OnShutdown(func() error { return hardware.StopAll(bus, bindings) })

	hwIO, err := hardware.NewIO(bus, table, bindings)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start hardware loop")
	}

	sched := scheduler.New(clock.New(), time.Millisecond)
	sched.Every("hardware-io", time.Millisecond, hwIO.Tick)
	for _, id := range table.IDs() {
		port, err := table.ClaimMotion(id)
		if err != nil {
			log.Fatal().Err(err).Int("blind", id).Msg("Failed to start motion controller")
		}
		ctrl := motion.New(port, motion.Options{
			Persister:          calibrations,
			Events:             events,
			CalibrationTimeout: cfg.CalibrationTimeout(),
			Context:            ctx,
		})
		sched.Every(fmt.Sprintf("motion-%d", id), motion.SettledInterval, ctrl.Tick)
	}
	sched.Every("backend-sync", backendsync.Interval, syncer.Tick)
	sched.Every("broadcast", broadcast.Interval, bc.Tick)

	reporter := status.New(identity, table, mq, temperature.NewMonitor(cfg.TempSensorBus), cfg.TopicRoot)
	keeper := backend.NewTokenKeeper(client)
	sched.Go("heartbeat", status.Interval, reporter.Heartbeat)
	sched.Go("token-refresh", backend.RefreshInterval, keeper.RefreshJob)
	sched.Go("token-renew", backend.RenewInterval, keeper.RenewJob)

	log.Info().
		Bool("from_cache", boot.FromCache).
		Str("broker", boot.Device.BrokerURL()).
		Ints("blinds", table.IDs()).
		Msg("Blinds controller running")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return mq.Run(gctx) })
	g.Go(func() error { return api.NewServer(table, in).Start(gctx, cfg.APIPort) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Controller stopped unexpectedly")
	}
	log.Info().Interface("job_runs", sched.Stats()).Msg("Shutting down")

	stop()
	datadog.Close()
	shutdown.Shutdown()
}
