package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gauravitis/crm-sub001/internal/app"
	_ "github.com/gauravitis/crm-sub001/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	assert.True(t, app.InTestMode())
	assert.NotPanics(t, main)
}

func TestRunJobsCommandUsage(t *testing.T) {
	cfg := &app.Config{RedisAddr: "127.0.0.1:0"}
	assert.Error(t, runJobsCommand(t.Context(), cfg, nil))
	assert.Error(t, runJobsCommand(t.Context(), cfg, []string{"trigger"}))
	assert.Error(t, runJobsCommand(t.Context(), cfg, []string{"rebuild"}))
}
