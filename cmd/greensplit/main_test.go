package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun(t *testing.T) {
	assert.NoError(t, run([]string{"--print-dot"}))
	assert.Error(t, run([]string{"--no-such-flag"}))
	assert.Error(t, run([]string{"--max-green-time=-1", "--metrics-addr="}))
	assert.Error(t, run([]string{"--demand=radar"}))
	assert.Error(t, run([]string{"--config=/does/not/exist.yaml"}))
}
