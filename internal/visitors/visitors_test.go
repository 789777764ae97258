package visitors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildFallbackVisitorID(t *testing.T) {
	t.Run("is stable for the same inputs", func(t *testing.T) {
		a := BuildFallbackVisitorID("example.com", "203.0.113.9", "Mozilla/5.0", "salt")
		b := BuildFallbackVisitorID("example.com", "203.0.113.9", "Mozilla/5.0", "salt")
		assert.Equal(t, a, b)
	})

	t.Run("differs across sites", func(t *testing.T) {
		a := BuildFallbackVisitorID("example.com", "203.0.113.9", "Mozilla/5.0", "salt")
		b := BuildFallbackVisitorID("other.com", "203.0.113.9", "Mozilla/5.0", "salt")
		assert.NotEqual(t, a, b)
	})

	t.Run("differs across salts", func(t *testing.T) {
		a := BuildFallbackVisitorID("example.com", "203.0.113.9", "Mozilla/5.0", "salt-1")
		b := BuildFallbackVisitorID("example.com", "203.0.113.9", "Mozilla/5.0", "salt-2")
		assert.NotEqual(t, a, b)
	})

	t.Run("never stores the raw IP", func(t *testing.T) {
		id := BuildFallbackVisitorID("example.com", "203.0.113.9", "Mozilla/5.0", "salt")
		assert.NotContains(t, id, "203.0.113.9")
		assert.Len(t, id, 64)
	})
}
