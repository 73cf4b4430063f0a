package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/kvdb/pkg/id"
)

var gen = id.NewGenerator()

type chanSink struct {
	ctx     context.Context
	ch      chan []byte
	block   chan struct{}
	sendErr error
	flushes atomic.Int32
}

func newChanSink() *chanSink {
	return &chanSink{ctx: context.Background(), ch: make(chan []byte, 64)}
}

func (s *chanSink) Send(p []byte) error {
	if s.block != nil {
		<-s.block
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.ch <- p
	return nil
}

func (s *chanSink) Flush() error             { s.flushes.Add(1); return nil }
func (s *chanSink) Context() context.Context { return s.ctx }

func (s *chanSink) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case p := <-s.ch:
		var m map[string]any
		require.NoError(t, json.Unmarshal(p, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (s *chanSink) none(t *testing.T) {
	t.Helper()
	select {
	case p := <-s.ch:
		t.Fatalf("unexpected event %s", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func put(key, val string) Event {
	return Event{ID: gen.Next(), Key: key, Value: StrPtr(val), Op: OpPut, TsMs: 42}
}

func TestEventEncode(t *testing.T) {
	ev := put("a", "1")
	b, err := ev.Encode()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "1", m["a"])
	assert.Equal(t, "put", m["op"])
	assert.Equal(t, ev.ID.String(), m["id"])
	assert.EqualValues(t, 42, m["ts_ms"])

	del := Event{ID: gen.Next(), Key: `we"ird`, Op: OpDelete}
	b, err = del.Encode()
	require.NoError(t, err)
	m = nil
	require.NoError(t, json.Unmarshal(b, &m))
	v, ok := m[`we"ird`]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, "delete", m["op"])
}

func TestBroadcastDeliversToAll(t *testing.T) {
	r := NewRegistry()
	defer r.Close()
	a, b := newChanSink(), newChanSink()
	_, err := r.Register("a", a, Options{})
	require.NoError(t, err)
	_, err = r.Register("b", b, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Count())

	r.Broadcast(put("k", "v"))
	assert.Equal(t, "v", a.next(t)["k"])
	assert.Equal(t, "v", b.next(t)["k"])
}

func TestFilter(t *testing.T) {
	r := NewRegistry()
	defer r.Close()
	s := newChanSink()
	_, err := r.Register("f", s, Options{Filter: `op == "put" && key.startsWith("user/")`})
	require.NoError(t, err)

	r.Broadcast(put("other", "x"))
	r.Broadcast(Event{ID: gen.Next(), Key: "user/1", Op: OpDelete})
	r.Broadcast(put("user/2", "y"))
	assert.Equal(t, "y", s.next(t)["user/2"])
	s.none(t)
	assert.EqualValues(t, 2, r.Stats()["filtered"])

	_, err = r.Register("bad", newChanSink(), Options{Filter: `key +`})
	assert.Error(t, err)
	_, err = r.Register("notbool", newChanSink(), Options{Filter: `key`})
	var fe *FilterError
	assert.ErrorAs(t, err, &fe)
}

func TestFullQueueDropsOnlyThatSubscriber(t *testing.T) {
	r := NewRegistry()
	defer r.Close()
	slow := newChanSink()
	slow.block = make(chan struct{})
	defer close(slow.block)
	fast := newChanSink()

	slowSub, err := r.Register("slow", slow, Options{Buffer: 1})
	require.NoError(t, err)
	_, err = r.Register("fast", fast, Options{Buffer: 16})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		r.Broadcast(put("k", "v"))
	}
	for i := 0; i < 5; i++ {
		fast.next(t)
	}

	var nf *NotificationFault
	require.Eventually(t, func() bool { return errors.As(slowSub.Err(), &nf) }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, slowSub.Err(), ErrQueueFull)
	assert.Equal(t, 1, r.Count())
	assert.EqualValues(t, 1, r.Stats()["dropped"])
}

func TestSinkErrorDropsSubscriber(t *testing.T) {
	r := NewRegistry()
	defer r.Close()
	bad := newChanSink()
	bad.sendErr = errors.New("broken pipe")
	good := newChanSink()
	badSub, _ := r.Register("bad", bad, Options{})
	_, _ = r.Register("good", good, Options{})

	r.Broadcast(put("k", "1"))
	<-badSub.Done()
	assert.ErrorContains(t, badSub.Err(), "broken pipe")
	assert.Equal(t, "1", good.next(t)["k"])
	assert.Equal(t, 1, r.Count())

	r.Broadcast(put("k", "2"))
	assert.Equal(t, "2", good.next(t)["k"])
}

func TestRegisterReplacesAndUnregister(t *testing.T) {
	r := NewRegistry()
	defer r.Close()
	first, second := newChanSink(), newChanSink()
	sub1, _ := r.Register("x", first, Options{})
	_, _ = r.Register("x", second, Options{})
	<-sub1.Done()
	assert.NoError(t, sub1.Err())
	assert.Equal(t, 1, r.Count())

	r.Broadcast(put("k", "v"))
	second.next(t)
	first.none(t)

	r.Unregister("x")
	r.Unregister("x")
	r.Unregister("never-registered")
	assert.Equal(t, 0, r.Count())
}

func TestContextCancelRemovesSubscriber(t *testing.T) {
	r := NewRegistry()
	defer r.Close()
	ctx, cancel := context.WithCancel(context.Background())
	s := newChanSink()
	s.ctx = ctx
	sub, _ := r.Register("c", s, Options{})
	cancel()
	<-sub.Done()
	assert.Equal(t, 0, r.Count())
}

func TestFlushWindowCoalesces(t *testing.T) {
	r := NewRegistry(WithDefaults(16, 20*time.Millisecond))
	defer r.Close()
	s := newChanSink()
	_, _ = r.Register("w", s, Options{})
	for i := 0; i < 3; i++ {
		r.Broadcast(put("k", "v"))
	}
	for i := 0; i < 3; i++ {
		s.next(t)
	}
	require.Eventually(t, func() bool { return s.flushes.Load() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Less(t, s.flushes.Load(), int32(3))
}

func TestCloseRejectsRegister(t *testing.T) {
	r := NewRegistry()
	sub, _ := r.Register("a", newChanSink(), Options{})
	r.Close()
	<-sub.Done()
	_, err := r.Register("b", newChanSink(), Options{})
	assert.ErrorIs(t, err, ErrRegistryClosed)
}
