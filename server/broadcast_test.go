package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvSnapshot(t *testing.T, s *Subscription) Snapshot {
	t.Helper()
	select {
	case snap := <-s.C():
		return snap
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	m := &Metrics{}
	b := NewBroadcaster(2, m)
	assert.Equal(t, 0, b.Publish(NewSnapshot(1, []byte("{}"))))
	assert.EqualValues(t, 1, m.SnapshotsPublished)
}

func TestSubscribersReceivePublished(t *testing.T) {
	b := NewBroadcaster(4, nil)
	s1, s2 := b.Subscribe(), b.Subscribe()
	defer s1.Close()
	defer s2.Close()

	assert.Equal(t, 2, b.Publish(NewSnapshot(1, []byte(`{"a":1}`))))
	assert.Equal(t, `{"a":1}`, string(recvSnapshot(t, s1).Data))
	assert.Equal(t, `{"a":1}`, string(recvSnapshot(t, s2).Data))
}

func TestLateSubscriberMissesEarlierSnapshots(t *testing.T) {
	b := NewBroadcaster(4, nil)
	b.Publish(NewSnapshot(1, []byte("{}")))

	s := b.Subscribe()
	defer s.Close()
	select {
	case snap := <-s.C():
		t.Fatalf("unexpected snapshot from tick %d", snap.Tick)
	default:
	}

	b.Publish(NewSnapshot(2, []byte("{}")))
	assert.EqualValues(t, 2, recvSnapshot(t, s).Tick)
}

func TestLaggedSubscriberDropsOldest(t *testing.T) {
	m := &Metrics{}
	b := NewBroadcaster(2, m)
	s := b.Subscribe()
	defer s.Close()

	for tick := uint64(1); tick <= 5; tick++ {
		b.Publish(NewSnapshot(tick, []byte("{}")))
	}

	assert.EqualValues(t, 4, recvSnapshot(t, s).Tick)
	assert.EqualValues(t, 5, recvSnapshot(t, s).Tick)
	assert.EqualValues(t, 3, s.TakeMissed())
	assert.EqualValues(t, 0, s.TakeMissed())
	assert.EqualValues(t, 3, m.LaggedDropped)
}

func TestCloseUnsubscribes(t *testing.T) {
	b := NewBroadcaster(2, nil)
	s := b.Subscribe()
	require.Equal(t, 1, b.Subscribers())

	s.Close()
	s.Close()
	assert.Equal(t, 0, b.Subscribers())
	assert.Equal(t, 0, b.Publish(NewSnapshot(1, []byte("{}"))))
}

func TestSnapshotDigest(t *testing.T) {
	a := NewSnapshot(1, []byte(`{"x":[1,2]}`))
	b := NewSnapshot(2, []byte(`{"x":[1,2]}`))
	c := NewSnapshot(3, []byte(`{}`))
	assert.Equal(t, a.Digest, b.Digest)
	assert.NotEqual(t, a.Digest, c.Digest)
}
