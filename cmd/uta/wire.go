package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/fentz26/uta/internal/audit"
	"github.com/fentz26/uta/internal/automation"
	"github.com/fentz26/uta/internal/connectors/localexec"
	"github.com/fentz26/uta/internal/declare"
	"github.com/fentz26/uta/internal/device/adb"
	"github.com/fentz26/uta/internal/logging"
	"github.com/fentz26/uta/internal/metrics"
	"github.com/fentz26/uta/internal/models"
	"github.com/fentz26/uta/internal/oracle"
	"github.com/fentz26/uta/internal/store"
)

// stack holds the components shared by run and daemon.
type stack struct {
	store    *store.Store
	pdr      *audit.PDRWriter
	registry *prometheus.Registry
	metrics  *metrics.Recorder
	oracle   *oracle.Client
	conn     *localexec.LocalExec
}

func newStack(ctx context.Context) (*stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s, err := store.New(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	backend, err := oracle.New(ctx, cfg.Oracle)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create oracle: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	workDir, _ := os.Getwd()

	return &stack{
		store:    s,
		pdr:      audit.NewPDRWriter(s),
		registry: registry,
		metrics:  m,
		oracle:   oracle.NewClient(backend, logging.Logger(), m),
		conn:     localexec.New(workDir),
	}, nil
}

func (st *stack) Close() error {
	return st.store.Close()
}

// loopFor builds an automation loop bound to one device.
func (st *stack) loopFor(serial string) (*automation.Loop, error) {
	dev, err := adb.New(st.conn, adb.Options{
		Path:        cfg.Device.ADBPath,
		Serial:      serial,
		Timeout:     cfg.Device.Timeout,
		AppCacheTTL: cfg.Device.AppCacheTTL,
	})
	if err != nil {
		return nil, err
	}

	logger := logging.With("device", serial)
	return automation.New(automation.ConfigFrom(cfg), automation.Deps{
		Device:   dev,
		Oracle:   st.oracle,
		Declarer: declare.New(st.oracle, logger, declare.DefaultMaxClarifications),
		Recorder: st.store,
		Auditor:  st.pdr,
		Logger:   logger,
		Metrics:  st.metrics,
	}), nil
}

// runTask runs task on the device and exports it once it is terminal. A task
// left waiting for clarification is not an error.
func (st *stack) runTask(ctx context.Context, serial string, task *models.Task) error {
	loop, err := st.loopFor(serial)
	if err != nil {
		return err
	}

	err = loop.Run(ctx, task)
	if errors.Is(err, automation.ErrAwaitingClarification) {
		return nil
	}
	if task.Terminal() {
		if _, exportErr := store.ExportTask(afero.NewOsFs(), cfg.Store.ExportDir, task); exportErr != nil {
			logging.Logger().Warn("export task failed", "task_id", task.ID, "error", exportErr)
		}
	}
	return err
}
