package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCloseLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	closeLogged(logger, "database", closerFunc(func() error { return errors.New("connection reset") }))

	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"resource":"database"`)
	assert.Contains(t, buf.String(), "connection reset")

	buf.Reset()
	closeLogged(logger, "kafka producer", closerFunc(func() error { return nil }))
	assert.Empty(t, buf.String())
}
