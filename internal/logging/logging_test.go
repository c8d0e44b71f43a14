package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoWritesMessageAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)
	log.With(map[string]any{"term": uint64(3)}).Info("role transition")

	out := buf.String()
	assert.Contains(t, out, `"message":"role transition"`)
	assert.Contains(t, out, `"term":3`)
}

func TestErrorIncludesErrField(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)
	log.Error("failed to persist term", errors.New("disk full"))

	out := buf.String()
	assert.Contains(t, out, `"error":"disk full"`)
	assert.Contains(t, out, `"message":"failed to persist term"`)
}

func TestWithIsCumulative(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf).With(map[string]any{"node": "n1"}).With(map[string]any{"term": uint64(1)})
	log.Info("tick")

	out := buf.String()
	assert.Contains(t, out, `"node":"n1"`)
	assert.Contains(t, out, `"term":1`)
}

func TestNopDiscardsOutput(t *testing.T) {
	log := Nop()
	require.NotPanics(t, func() {
		log.Info("ignored")
		log.Error("ignored", errors.New("x"))
	})
}
