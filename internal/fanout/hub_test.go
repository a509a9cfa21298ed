package fanout

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowexec/internal/domain"
)

type fakeSubscriber struct {
	id string

	mu       sync.Mutex
	received []Message
	fail     bool
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.received = append(f.received, msg)
	return nil
}

func (f *fakeSubscriber) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.received))
	copy(out, f.received)
	return out
}

func TestHub_DeliversOnlyToSameExecutionRoom(t *testing.T) {
	hub := NewHub(5 * time.Millisecond)
	go hub.Run()
	defer hub.Stop()

	subA := &fakeSubscriber{id: "a"}
	subB := &fakeSubscriber{id: "b"}
	hub.Join("exec-1", subA)
	hub.Join("exec-2", subB)

	hub.Publish(Message{ExecutionID: "exec-1", Kind: EventExecutionStarted})

	require.Eventually(t, func() bool {
		return len(subA.messages()) == 1
	}, time.Second, time.Millisecond)
	assert.Empty(t, subB.messages())
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	hub := NewHub(5 * time.Millisecond)
	go hub.Run()
	defer hub.Stop()

	sub := &fakeSubscriber{id: "a"}
	hub.Join("exec-1", sub)
	hub.Leave("exec-1", sub)

	hub.Publish(Message{ExecutionID: "exec-1", Kind: EventExecutionStarted})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sub.messages())
}

func TestHub_PublishFillsIDAndTimestamp(t *testing.T) {
	hub := NewHub(5 * time.Millisecond)
	go hub.Run()
	defer hub.Stop()

	sub := &fakeSubscriber{id: "a"}
	hub.Join("exec-1", sub)
	hub.Publish(Message{ExecutionID: "exec-1", Kind: EventExecutionLog})

	require.Eventually(t, func() bool {
		return len(sub.messages()) == 1
	}, time.Second, time.Millisecond)

	msg := sub.messages()[0]
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestHub_PublishLogEmitsExecutionLogEvent(t *testing.T) {
	hub := NewHub(5 * time.Millisecond)
	go hub.Run()
	defer hub.Stop()

	sub := &fakeSubscriber{id: "a"}
	hub.Join("exec-1", sub)
	hub.PublishLog(domain.LogEntry{ExecutionID: "exec-1", Message: "hello"})

	require.Eventually(t, func() bool {
		return len(sub.messages()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, EventExecutionLog, sub.messages()[0].Kind)
}

func TestHub_FailingSubscriberDoesNotBlockOthers(t *testing.T) {
	hub := NewHub(5 * time.Millisecond)
	go hub.Run()
	defer hub.Stop()

	bad := &fakeSubscriber{id: "bad", fail: true}
	good := &fakeSubscriber{id: "good"}
	hub.Join("exec-1", bad)
	hub.Join("exec-1", good)

	hub.Publish(Message{ExecutionID: "exec-1", Kind: EventExecutionStarted})

	require.Eventually(t, func() bool {
		return len(good.messages()) == 1
	}, time.Second, time.Millisecond)
}
