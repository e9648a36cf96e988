package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingConsumer struct{ calls int }

func (c *failingConsumer) Consume(_ context.Context, _ *Event) error {
	c.calls++
	return errors.New("sink broken")
}

func (c *failingConsumer) Close() error { return nil }

func TestTrailSwallowsConsumerFailure(t *testing.T) {
	consumer := &failingConsumer{}
	trail := NewTrail(consumer)

	// Must not panic or propagate.
	trail.Record(context.Background(), "owner-1", "sess-1", "user", "hello")
	assert.Equal(t, 1, consumer.calls)
}

func TestTrailNilSafe(t *testing.T) {
	var trail *Trail
	trail.Record(context.Background(), "owner-1", "sess-1", "user", "hello")
	assert.NoError(t, trail.Close())

	empty := NewTrail(nil)
	empty.Record(context.Background(), "owner-1", "sess-1", "user", "hello")
	assert.NoError(t, empty.Close())
}

func TestFileConsumerAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "trail.jsonl")
	consumer, err := NewFileConsumer(path)
	require.NoError(t, err)
	trail := NewTrail(consumer)

	ctx := context.Background()
	trail.Record(ctx, "owner-1", "sess-1", "user", "hello")
	trail.Record(ctx, "owner-1", "sess-1", "assistant", "hi, how are you?")
	require.NoError(t, trail.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, events, 2)
	assert.Equal(t, "user", events[0].Role)
	assert.Equal(t, "hello", events[0].Content)
	assert.Equal(t, "assistant", events[1].Role)
	assert.NotEmpty(t, events[0].UID)
	assert.NotZero(t, events[0].CreatedTs)
}
