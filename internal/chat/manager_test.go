package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RegisterOrder(t *testing.T) {
	m := newTestManager(20)
	alice := newMockConn("a")

	m.Register(alice, "Alice")

	frames := alice.frames()
	require.Len(t, frames, 3)
	assert.Equal(t, KindHistory, frames[0].Type)
	assert.Empty(t, frames[0].history(t))
	assert.Equal(t, KindSystem, frames[1].Type)
	assert.Equal(t, JoinNotice("Alice"), frames[1].text(t))
	assert.Equal(t, KindParticipants, frames[2].Type)
	assert.Equal(t, []string{"Alice"}, frames[2].names(t))

	for _, f := range frames {
		assert.Equal(t, fixedNow.Format(TimestampLayout), f.TS)
	}
}

func TestManager_JoinScenario(t *testing.T) {
	m := newTestManager(20)
	alice := newMockConn("a")
	bob := newMockConn("b")

	m.Register(alice, "Alice")
	alice.reset()
	m.Register(bob, "Bob")

	bobFrames := bob.frames()
	require.NotEmpty(t, bobFrames)
	assert.Equal(t, KindHistory, bobFrames[0].Type)
	assert.Empty(t, bobFrames[0].history(t))

	for _, conn := range []*mockConn{alice, bob} {
		participants := conn.framesOfType(KindParticipants)
		require.Len(t, participants, 1)
		assert.Equal(t, []string{"Alice", "Bob"}, participants[0].names(t))
	}
	assert.Empty(t, alice.framesOfType(KindHistory), "history goes only to the joiner")

	alice.reset()
	bob.reset()
	report := m.Broadcast(NewChat("Alice", "hi"))
	assert.ElementsMatch(t, []string{"a", "b"}, report.Delivered)
	assert.Empty(t, report.Failed)

	for _, conn := range []*mockConn{alice, bob} {
		frames := conn.frames()
		require.Len(t, frames, 1)
		assert.Equal(t, KindChat, frames[0].Type)
		assert.Equal(t, "Alice", frames[0].User)
		assert.Equal(t, "hi", frames[0].text(t))
		assert.NotEmpty(t, frames[0].TS)
	}
	assert.Len(t, m.History(), 1)

	name := m.Deregister(alice)
	assert.Equal(t, "Alice", name)
	assert.Equal(t, []string{"Bob"}, m.Participants())
}

func TestManager_HistoryEvictsOldest(t *testing.T) {
	m := newTestManager(20)
	sender := newMockConn("s")
	m.Register(sender, "Sender")

	for i := 1; i <= 25; i++ {
		m.Broadcast(NewChat("Sender", fmt.Sprintf("msg %d", i)))
		assert.Len(t, m.History(), min(i, 20))
	}

	late := newMockConn("late")
	m.Register(late, "Late")

	histories := late.framesOfType(KindHistory)
	require.Len(t, histories, 1)
	entries := histories[0].history(t)
	require.Len(t, entries, 20)
	for i, entry := range entries {
		assert.Equal(t, fmt.Sprintf("msg %d", i+6), entry.text(t))
		assert.Equal(t, "Sender", entry.User)
	}
}

func TestManager_SystemNotRetained(t *testing.T) {
	m := newTestManager(20)
	m.Register(newMockConn("a"), "Alice")
	m.Broadcast(NewSystem("maintenance"))
	m.BroadcastParticipants()

	assert.Empty(t, m.History())
}

func TestManager_ResourceRetained(t *testing.T) {
	m := newTestManager(20)
	m.Broadcast(NewResource(KindImage, "Alice", "/static/uploads/a.png", "a.png"))
	m.Broadcast(NewResource(KindFile, "Alice", "/static/uploads/a.pdf", ""))

	history := m.History()
	require.Len(t, history, 2)
	assert.Equal(t, KindImage, history[0].Kind)
	assert.Equal(t, "a.png", history[0].Name)
	assert.Equal(t, KindFile, history[1].Kind)
}

func TestManager_BroadcastKeepsExistingTimestamp(t *testing.T) {
	m := newTestManager(20)
	env := NewChat("Alice", "hi")
	env.Timestamp = "2000-01-01T00:00:00Z"
	m.Broadcast(env)

	assert.Equal(t, "2000-01-01T00:00:00Z", m.History()[0].Timestamp)
}

func TestManager_FailedRecipientIsDropped(t *testing.T) {
	m := newTestManager(20)
	alice := newMockConn("a")
	broken := newMockConn("x")
	bob := newMockConn("b")
	m.Register(alice, "Alice")
	m.Register(broken, "Broken")
	m.Register(bob, "Bob")

	broken.failSends(errSendRefused)
	alice.reset()
	bob.reset()

	report := m.Broadcast(NewChat("Alice", "still here"))

	assert.Equal(t, []string{"x"}, report.Failed)
	assert.ElementsMatch(t, []string{"a", "b"}, report.Delivered)
	assert.True(t, broken.isClosed())
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, []string{"Alice", "Bob"}, m.Participants())

	// No leave notice is sent by the eviction itself.
	assert.Empty(t, alice.framesOfType(KindSystem))
	assert.Len(t, alice.framesOfType(KindChat), 1)
	assert.Len(t, bob.framesOfType(KindChat), 1)

	// The handler's later deregister still learns the name, once.
	assert.Equal(t, "Broken", m.Deregister(broken))
	assert.Equal(t, DefaultPlaceholderName, m.Deregister(broken))
	assert.Equal(t, []string{"Alice", "Bob"}, m.Participants())
}

func TestManager_DeregisterUnknown(t *testing.T) {
	m := newTestManager(20)
	m.Register(newMockConn("a"), "Alice")

	assert.Equal(t, DefaultPlaceholderName, m.Deregister(newMockConn("ghost")))
	assert.Equal(t, []string{"Alice"}, m.Participants())
	assert.Equal(t, 1, m.Count())
}

func TestManager_SendPrivate(t *testing.T) {
	m := newTestManager(20)
	alice := newMockConn("a")
	bob := newMockConn("b")
	m.Register(alice, "Alice")
	m.Register(bob, "Bob")
	alice.reset()
	bob.reset()

	require.NoError(t, m.SendPrivate(alice, NewError("nope")))
	assert.Len(t, alice.frames(), 1)
	assert.Empty(t, bob.frames())

	alice.failSends(errSendRefused)
	assert.ErrorIs(t, m.SendPrivate(alice, NewError("nope")), errSendRefused)
	assert.Equal(t, 2, m.Count(), "private failures do not evict")
}

func TestManager_DuplicateNames(t *testing.T) {
	m := newTestManager(20)
	m.Register(newMockConn("1"), "Sam")
	m.Register(newMockConn("2"), "Sam")

	assert.Equal(t, []string{"Sam", "Sam"}, m.Participants())
}

func TestManager_CloseAll(t *testing.T) {
	m := newTestManager(20)
	a := newMockConn("a")
	b := newMockConn("b")
	m.Register(a, "A")
	m.Register(b, "B")

	assert.Equal(t, 2, m.CloseAll())
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
}

func TestManager_ConcurrentOperations(t *testing.T) {
	m := newTestManager(20)
	observer := newMockConn("observer")
	m.Register(observer, "Observer")

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			conn := newMockConn(fmt.Sprintf("c%d", i))
			m.Register(conn, fmt.Sprintf("user%02d", i))
			m.Broadcast(NewChat("x", fmt.Sprintf("hello %d", i)))
			m.Deregister(conn)
			m.BroadcastParticipants()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, m.Count())
	assert.Equal(t, []string{"Observer"}, m.Participants())
	assert.Len(t, m.History(), 20)

	for _, f := range observer.framesOfType(KindParticipants) {
		names := f.names(t)
		seen := make(map[string]bool, len(names))
		for _, n := range names {
			assert.False(t, seen[n], "duplicate %q in participants", n)
			seen[n] = true
		}
	}
}
