package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqforge/reqforge/pkg/models"
)

func statusEvent(id int64) models.Event {
	return models.Event{ID: id, Type: models.EventWorkflowStatus}
}

func chatterEvent(id int64) models.Event {
	return models.Event{ID: id, Type: models.EventAgentMessage}
}

func drain(t *testing.T, s *Stream) []models.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var out []models.Event
	for {
		evt, ok := s.Next(ctx)
		if !ok {
			return out
		}
		out = append(out, evt)
	}
}

func TestStreamDeliversInOrder(t *testing.T) {
	s := newStream(8)
	for i := int64(1); i <= 3; i++ {
		s.push(statusEvent(i))
	}
	s.Close()

	events := drain(t, s)
	require.Len(t, events, 3)
	for i, evt := range events {
		assert.Equal(t, int64(i+1), evt.ID)
	}
}

func TestStreamCriticalEventsExceedBound(t *testing.T) {
	s := newStream(2)
	for i := int64(1); i <= 5; i++ {
		s.push(statusEvent(i))
	}
	assert.Equal(t, 5, s.Len())
	s.Close()

	events := drain(t, s)
	require.Len(t, events, 5)
	assert.Equal(t, int64(1), events[0].ID)
	assert.Equal(t, int64(5), events[4].ID)
}

func TestStreamEvictsOldestAgentMessage(t *testing.T) {
	s := newStream(2)
	s.push(chatterEvent(1))
	s.push(chatterEvent(2))
	s.push(chatterEvent(3))
	s.Close()

	events := drain(t, s)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].ID)
	assert.Equal(t, int64(3), events[1].ID)
}

func TestStreamDropsIncomingChatterWhenFullOfCritical(t *testing.T) {
	s := newStream(2)
	s.push(statusEvent(1))
	s.push(statusEvent(2))
	s.push(chatterEvent(3))
	s.Close()

	events := drain(t, s)
	require.Len(t, events, 2)
	for _, evt := range events {
		assert.Equal(t, models.EventWorkflowStatus, evt.Type)
	}
}

func TestStreamEvictionSkipsCriticalEvents(t *testing.T) {
	s := newStream(2)
	s.push(statusEvent(1))
	s.push(chatterEvent(2))
	s.push(chatterEvent(3))
	s.Close()

	events := drain(t, s)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].ID)
	assert.Equal(t, int64(3), events[1].ID)
}

func TestStreamNextBlocksUntilPush(t *testing.T) {
	s := newStream(8)
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.push(statusEvent(42))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	evt, ok := s.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(42), evt.ID)
}

func TestStreamNextReturnsOnContextCancel(t *testing.T) {
	s := newStream(8)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := s.Next(ctx)
	assert.False(t, ok)
}

func TestStreamCloseKeepsQueuedEventsReadable(t *testing.T) {
	s := newStream(8)
	s.push(statusEvent(1))
	s.Close()

	ctx := context.Background()
	evt, ok := s.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(1), evt.ID)

	_, ok = s.Next(ctx)
	assert.False(t, ok)
}

func TestStreamPushAfterCloseIsIgnored(t *testing.T) {
	s := newStream(8)
	s.Close()
	s.push(statusEvent(1))
	assert.Equal(t, 0, s.Len())
}

func TestStreamConcurrentProducers(t *testing.T) {
	s := newStream(256)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for j := int64(0); j < 25; j++ {
				s.push(statusEvent(base + j))
			}
		}(int64(i * 100))
	}
	wg.Wait()
	s.Close()

	events := drain(t, s)
	assert.Len(t, events, 100)
}
