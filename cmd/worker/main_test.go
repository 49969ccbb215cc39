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
