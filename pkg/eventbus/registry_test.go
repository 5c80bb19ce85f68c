package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agenciapixel/connectflow/pkg/models"
)

func TestRegistry_FirstMatchWins(t *testing.T) {
	registry := NewRegistry()
	key := models.CorrelationKey("contact-1", "whatsapp")

	registry.Register(key, "run-1")
	registry.Register(key, "run-2")

	runID, ok := registry.Claim(key)
	assert.True(t, ok)
	assert.Equal(t, "run-1", runID)

	runID, ok = registry.Claim(key)
	assert.True(t, ok)
	assert.Equal(t, "run-2", runID)

	_, ok = registry.Claim(key)
	assert.False(t, ok)
}

func TestRegistry_RequeueRestoresHeadPosition(t *testing.T) {
	registry := NewRegistry()
	key := models.CorrelationKey("contact-1", "whatsapp")

	registry.Register(key, "run-1")
	registry.Register(key, "run-2")

	// run-1 is claimed but its delivery fails; putting it back must not
	// cost it its place in line.
	runID, ok := registry.Claim(key)
	assert.True(t, ok)
	assert.Equal(t, "run-1", runID)

	registry.Requeue(key, runID)

	runID, ok = registry.Claim(key)
	assert.True(t, ok)
	assert.Equal(t, "run-1", runID)

	runID, ok = registry.Claim(key)
	assert.True(t, ok)
	assert.Equal(t, "run-2", runID)
}

func TestRegistry_DeregisterRemovesWaiter(t *testing.T) {
	registry := NewRegistry()
	key := models.CorrelationKey("contact-1", "whatsapp")

	registry.Register(key, "run-1")
	assert.True(t, registry.Waiting(key, "run-1"))

	registry.Deregister(key, "run-1")
	assert.False(t, registry.Waiting(key, "run-1"))

	_, ok := registry.Claim(key)
	assert.False(t, ok)

	// Deregistering again is harmless.
	registry.Deregister(key, "run-1")
}

func TestRegistry_RegisterIsIdempotentPerRun(t *testing.T) {
	registry := NewRegistry()
	key := models.CorrelationKey("contact-1", "whatsapp")

	registry.Register(key, "run-1")
	registry.Register(key, "run-1")

	_, ok := registry.Claim(key)
	assert.True(t, ok)

	_, ok = registry.Claim(key)
	assert.False(t, ok, "duplicate registration must not leave a second waiter")
}
