package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"relevance-service/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFanoutContinuesAfterFailure(t *testing.T) {
	buf := NewBuffer(10)
	failing := HandlerFunc(func(context.Context, models.Event) error { return errors.New("down") })

	f := NewFanout(zap.NewNop(), failing, buf)
	require.NoError(t, f.Handle(context.Background(), models.Event{Type: models.EventStarted}))
	require.Len(t, buf.Events(), 1)
}

func TestBufferKeepsLastN(t *testing.T) {
	buf := NewBuffer(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, buf.Handle(context.Background(), models.Event{Type: models.EventProgress, Progress: i}))
	}
	evs := buf.Events()
	require.Len(t, evs, 3)
	require.Equal(t, 2, evs[0].Progress)
}

func TestDrain(t *testing.T) {
	ch := make(chan models.Event, 2)
	ch <- models.Event{Type: models.EventStarted}
	ch <- models.Event{Type: models.EventCompleted}
	close(ch)

	buf := NewBuffer(10)
	Drain(context.Background(), ch, buf)
	require.Len(t, buf.Events(), 2)
}

func TestLogHandlerLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := NewLogHandler(zap.New(core))

	ctx := context.Background()
	require.NoError(t, h.Handle(ctx, models.Event{Type: models.EventLog, Level: models.LevelWarning, Message: "skipping"}))
	require.NoError(t, h.Handle(ctx, models.Event{Type: models.EventError, Message: "boom", Err: "x"}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zap.WarnLevel, entries[0].Level)
	require.Equal(t, zap.ErrorLevel, entries[1].Level)
}

type fakePublisher struct {
	channel string
	payload []byte
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func TestRedisPublisher(t *testing.T) {
	pub := &fakePublisher{}
	p := NewRedisPublisher(pub, "scores", zap.NewNop())

	err := p.Handle(context.Background(), models.Event{RunID: "r1", Type: models.EventProgress, Progress: 40})
	require.NoError(t, err)
	require.Equal(t, "scores:r1", pub.channel)

	var ev models.Event
	require.NoError(t, json.Unmarshal(pub.payload, &ev))
	require.Equal(t, 40, ev.Progress)
}
