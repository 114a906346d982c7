package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPadName(t *testing.T) {
	t.Run("PadsShortNames", func(t *testing.T) {
		padded := padName("federata")
		assert.Len(t, padded, nameWidth)
		assert.True(t, strings.HasPrefix(padded, "federata"))
	})

	t.Run("TruncatesLongNames", func(t *testing.T) {
		padded := padName(strings.Repeat("x", nameWidth+5))
		assert.True(t, strings.HasSuffix(padded, "…"))
	})
}

func TestRenderFields(t *testing.T) {
	rendered := renderFields(map[string]string{"member": "m1", "group": "orders"})
	assert.Equal(t, "group=orders member=m1", rendered)
}

func TestSubscribe(t *testing.T) {
	l := New("test", "dev")
	l.DisableConsoleOutput()
	ch := l.Subscribe()

	l.Infof("applied %d rows", 3)

	select {
	case entry := <-ch:
		assert.Equal(t, "INFO", entry.Level)
		assert.Equal(t, "applied 3 rows", entry.Message)
	default:
		t.Fatal("expected a log entry on the subscriber channel")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	l := New("test", "dev")
	l.DisableConsoleOutput()
	ch := l.Subscribe()

	for i := 0; i < subscriberQ+10; i++ {
		l.Debug("tick")
	}

	// The queue filled up and further entries were dropped
	require.Len(t, ch, subscriberQ)
}

func TestWithFields(t *testing.T) {
	l := New("test", "dev")
	l.DisableConsoleOutput()
	ch := l.Subscribe()

	l.WithFields(map[string]string{"member": "m1"}).Warn("degraded")

	entry := <-ch
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "m1", entry.Fields["member"])
}
