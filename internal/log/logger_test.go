// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconfigure_ComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "debug", Output: &buf, Service: "rootcap-test", Version: "v0"})
	t.Cleanup(func() { Reconfigure(Config{}) })

	l := WithComponent("native")
	l.Debug().Str(FieldCommand, "quit").Msg("sent")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "rootcap-test", entry["service"])
	assert.Equal(t, "native", entry[FieldComponent])
	assert.Equal(t, "quit", entry[FieldCommand])
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestConfigure_FirstCallWins(t *testing.T) {
	var first, second bytes.Buffer
	Reconfigure(Config{Output: &first})
	t.Cleanup(func() { Reconfigure(Config{}) })

	Configure(Config{Output: &second})
	L().Info().Msg("x")

	assert.NotZero(t, first.Len())
	assert.Zero(t, second.Len())
}
