package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	msg, err := NewMessage(TypeCheckinRecorded, map[string]string{"email": "ana@example.com"})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case got := <-ch:
		require.Equal(t, TypeCheckinRecorded, got.Type)
		require.JSONEq(t, `{"email":"ana@example.com"}`, string(got.Body))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	_, open := <-ch
	require.False(t, open)
}

func TestInMemoryPublishDropsWhenFull(t *testing.T) {
	q := NewInMemory(2)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "a"}))
	require.NoError(t, q.Publish(context.Background(), Message{Type: "b"}))

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.ErrorIs(t, q.Publish(context.Background(), Message{Type: "c"}), ErrFull)
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, NewInMemory(1).Publish(ctx, Message{Type: "d"}), context.Canceled)
}

func TestSerialize(t *testing.T) {
	s, err := serialize(Message{Type: TypeCheckinRecorded, Body: []byte(`{"id":"c1"}`)})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"checkin.recorded","body":{"id":"c1"}}`, s)

	msg, err := deserialize(s)
	require.NoError(t, err)
	require.Equal(t, TypeCheckinRecorded, msg.Type)

	_, err = deserialize(`{"body":{}}`)
	require.Error(t, err)
	_, err = deserialize(`not json`)
	require.Error(t, err)
}
