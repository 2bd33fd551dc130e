package mailbox

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityOrder(t *testing.T) {
	m := New[string](10, WithPriority(func(s string) bool {
		return strings.HasPrefix(s, "!")
	}))

	for _, s := range []string{"a", "b", "!x", "c", "!y"} {
		require.NoError(t, m.Post(s))
	}

	var got []string
	for {
		s, ok := m.TryReceive()
		if !ok {
			break
		}
		got = append(got, s)
	}
	assert.Equal(t, []string{"!x", "!y", "a", "b", "c"}, got)
}

func TestFull(t *testing.T) {
	m := New[int](2)
	require.NoError(t, m.Post(1))
	require.NoError(t, m.Post(2))
	assert.Equal(t, ErrFull, m.Post(3))

	_, _ = m.TryReceive()
	assert.NoError(t, m.Post(3))
	assert.Equal(t, 2, m.Len())
}

func TestUnbounded(t *testing.T) {
	m := New[string](2,
		WithPriority(func(s string) bool { return strings.HasPrefix(s, "!") }),
		WithUnbounded(func(s string) bool { return s == "!bye" }))

	require.NoError(t, m.Post("!a"))
	require.NoError(t, m.Post("!b"))
	assert.Equal(t, ErrFull, m.Post("!c"))
	require.NoError(t, m.Post("!bye"))
	require.NoError(t, m.Post("!bye"))
	assert.Equal(t, 4, m.Len())

	var got []string
	for {
		s, ok := m.TryReceive()
		if !ok {
			break
		}
		got = append(got, s)
	}
	assert.Equal(t, []string{"!a", "!b", "!bye", "!bye"}, got)

	m.Close()
	assert.Equal(t, ErrClosed, m.Post("!bye"))
}

func TestDropDuplicates(t *testing.T) {
	m := New[string](10, WithDropDuplicates(func(s string) (string, bool) {
		return s, s == "getaddr"
	}))

	require.NoError(t, m.Post("getaddr"))
	assert.Equal(t, ErrDuplicate, m.Post("getaddr"))
	require.NoError(t, m.Post("inv"))
	require.NoError(t, m.Post("inv"))

	s, _ := m.TryReceive()
	assert.Equal(t, "getaddr", s)

	// once dequeued an equal message is accepted again
	assert.NoError(t, m.Post("getaddr"))
	assert.Equal(t, 3, m.Len())
}

func TestReceiveBlocks(t *testing.T) {
	m := New[int](4)
	done := make(chan struct{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Post(7)
	}()

	v, ok := m.Receive(done)
	require.True(t, ok)
	assert.Equal(t, 7, v)

	close(done)
	_, ok = m.Receive(done)
	assert.False(t, ok)
}

func TestClose(t *testing.T) {
	m := New[int](4)
	require.NoError(t, m.Post(1))
	m.Close()
	assert.Equal(t, ErrClosed, m.Post(2))

	v, ok := m.TryReceive()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}
