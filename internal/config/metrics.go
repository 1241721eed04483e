package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// loadStage names the step of Load that produced an error.
type loadStage string

const (
	stageNone     loadStage = "none"
	stageFile     loadStage = "file"
	stageParse    loadStage = "parse"
	stageValidate loadStage = "validation"
	stageUnknown  loadStage = "load"
)

type stageError struct {
	stage loadStage
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

func atStage(stage loadStage, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: stage, err: err}
}

var loadEvents struct {
	once    sync.Once
	counter metric.Int64Counter
}

func recordLoad(ctx context.Context, profile, driver string, err error) {
	loadEvents.once.Do(func() {
		counter, cerr := otel.Meter("millat-backend/config").Int64Counter(
			"config.load.events",
			metric.WithDescription("Configuration loads by outcome and failing stage"),
		)
		if cerr == nil {
			loadEvents.counter = counter
		}
	})
	if loadEvents.counter == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	loadEvents.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", profileLabel(profile)),
		attribute.String("db_driver", profileLabel(driver)),
		attribute.String("outcome", outcome),
		attribute.String("stage", string(stageOf(err))),
	))
}

func profileLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}

func stageOf(err error) loadStage {
	if err == nil {
		return stageNone
	}
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return stageUnknown
}
