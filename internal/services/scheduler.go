// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package services

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler manages background jobs and periodic tasks
type Scheduler struct {
	logger            *slog.Logger
	aggregator        *Aggregator
	reconcileInterval time.Duration
	stopChan          chan struct{}
	doneChan          chan struct{}
}

// SchedulerOption configures Scheduler behavior
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger for the scheduler
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithReconcileInterval sets how often the aggregate rebuild runs
func WithReconcileInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.reconcileInterval = interval
	}
}

// NewScheduler creates a new Scheduler instance
func NewScheduler(aggregator *Aggregator, options ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		logger:            slog.Default(),
		aggregator:        aggregator,
		reconcileInterval: time.Hour,
		stopChan:          make(chan struct{}),
		doneChan:          make(chan struct{}),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Start begins the scheduler's background operations
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler")

	go s.run(ctx)
}

// Stop gracefully shuts down the scheduler
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background scheduler")
	close(s.stopChan)
	<-s.doneChan
	s.logger.Info("Background scheduler stopped")
}

// run executes the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneChan)

	reconcileTicker := time.NewTicker(s.reconcileInterval)
	defer reconcileTicker.Stop()

	s.logger.Info("Scheduler started", "reconcileInterval", s.reconcileInterval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled")
			return

		case <-s.stopChan:
			s.logger.Info("Scheduler stop signal received")
			return

		case <-reconcileTicker.C:
			s.runReconciliation(ctx)
		}
	}
}

// runReconciliation executes the usage aggregate rebuild job
func (s *Scheduler) runReconciliation(ctx context.Context) {
	s.logger.Info("Running scheduled usage reconciliation")
	start := time.Now()

	if err := s.aggregator.Reconcile(ctx); err != nil {
		s.logger.Error("Usage reconciliation job failed", "error", err, "duration", time.Since(start))
		return
	}

	s.logger.Info("Usage reconciliation job completed", "duration", time.Since(start))
}
