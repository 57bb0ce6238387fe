package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/gattkit/internal/central"
	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/devicefactory"
	"github.com/srg/gattkit/internal/session"
	"github.com/srg/gattkit/pkg/config"
)

// app is the coordinator a command runs against, plus the context that ends on Ctrl+C.
type app struct {
	ctx     context.Context
	cfg     *config.Config
	logger  *logrus.Logger
	central *central.Coordinator

	stop context.CancelFunc
}

// loadConfig reads --config when given and applies the global flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, bool, error) {
	cfg := config.DefaultConfig()
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, false, err
		}
		cfg = loaded
	}

	if driver, _ := cmd.Flags().GetString("driver"); driver != "" {
		cfg.Driver = driver
	}
	if timeout, _ := cmd.Flags().GetDuration("op-timeout"); timeout > 0 {
		cfg.OperationTimeout = timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return cfg, path != "", nil
}

// startApp loads the configuration, builds the coordinator and starts it.
func startApp(cmd *cobra.Command) (*app, error) {
	cfg, fromFile, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg, fromFile)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	c, _, err := devicefactory.NewCoordinator(cfg, logger)
	if err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	if err := c.Init(ctx); err != nil {
		stop()
		return nil, err
	}

	return &app{ctx: ctx, cfg: cfg, logger: logger, central: c, stop: stop}, nil
}

// Close shuts the coordinator down.
func (a *app) Close() {
	if err := a.central.Shutdown(); err != nil {
		a.logger.WithError(err).Warn("Coordinator shutdown failed")
	}
	a.stop()
}

// connect opens a link to address and waits for it, or for Ctrl+C.
func (a *app) connect(address string) (*session.Session, error) {
	done := make(chan error, 1)
	if err := a.central.Connect(address, func(_ *session.Session, err error) { done <- err }); err != nil {
		return nil, err
	}
	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
		}
		return a.central.Session(address), nil
	case <-a.ctx.Done():
		a.central.Release(address)
		return nil, a.ctx.Err()
	}
}

// disconnect closes the link once every queued request of s has completed and
// waits until the link is down. It replaces the session's disconnect handler.
func (a *app) disconnect(s *session.Session) {
	done := make(chan struct{})
	var once sync.Once
	s.OnDisconnect(func(string, error) { once.Do(func() { close(done) }) })

	if err := s.Disconnect(false); err != nil {
		a.logger.WithError(err).Debug("Disconnect skipped")
		return
	}
	select {
	case <-done:
	case <-time.After(a.cfg.ConnectTimeout):
		a.logger.WithField("device", s.ID()).Warn("Disconnect did not complete")
	case <-a.ctx.Done():
	}
}

// await submits one request and waits for its outcome.
func (a *app) await(submit func(device.ResultHandler) error) ([]byte, error) {
	type outcome struct {
		value []byte
		err   error
	}
	done := make(chan outcome, 1)
	if err := submit(func(value []byte, err error) { done <- outcome{value, err} }); err != nil {
		return nil, err
	}
	select {
	case o := <-done:
		return o.value, o.err
	case <-a.ctx.Done():
		return nil, a.ctx.Err()
	}
}

// requestKey validates the service and characteristic UUIDs of a command.
func requestKey(service, characteristic string) (device.RequestKey, error) {
	ids, err := device.ValidateUUID(service, characteristic)
	if err != nil {
		return device.NoneKey, fmt.Errorf("%s/%s: %w", service, characteristic, err)
	}
	return device.NewRequestKey(ids[0], ids[1]), nil
}
