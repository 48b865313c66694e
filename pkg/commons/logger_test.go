// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewApplicationLogger_Defaults(t *testing.T) {
	logger, err := NewApplicationLogger()
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, logger.Level())
}

func TestNewApplicationLogger_InvalidLevel(t *testing.T) {
	_, err := NewApplicationLogger(Level("loud"))
	assert.Error(t, err)
}

func TestNewApplicationLogger_WritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewApplicationLogger(Name("test-console"), Path(dir), Level("debug"))
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, logger.Level())

	logger.Infow("session connected", "session_id", "s-1")
	logger.Benchmark("Transport.Connect", 12*time.Millisecond)
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "test-console.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "session connected")
	assert.Contains(t, string(data), "Transport.Connect")
}
