package main

import (
	"errors"
	"testing"

	"github.com/RichardoC/legisla/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestReloadConfig_KeepsPreviousOnError(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	prev := &config.Config{EnvFile: "prev.env"}

	got := reloadConfig(func(string) (*config.Config, error) {
		return nil, errors.New("JWT_SECRET is required")
	}, "", prev, zap.New(core))

	assert.Same(t, prev, got)
	assert.Equal(t, 1, logs.Len())
}

func TestReloadConfig_UsesNewConfig(t *testing.T) {
	prev := &config.Config{EnvFile: "prev.env"}
	next := &config.Config{EnvFile: "next.env"}

	var gotPath string
	got := reloadConfig(func(path string) (*config.Config, error) {
		gotPath = path
		return next, nil
	}, "config.yaml", prev, zap.NewNop())

	assert.Same(t, next, got)
	assert.Equal(t, "config.yaml", gotPath)
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := newLogger(config.Log{Level: "loud"})
	assert.Error(t, err)

	logger, err := newLogger(config.Log{Level: "debug", Development: true})
	assert.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}
