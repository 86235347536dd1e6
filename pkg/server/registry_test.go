package server

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingEndpoint struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (e *recordingEndpoint) ID() string { return e.id }

func (e *recordingEndpoint) Deliver(frame []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errors.New("broken pipe")
	}
	e.frames = append(e.frames, frame)
	return nil
}

func (e *recordingEndpoint) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.frames)
}

func TestRegistryJoinIsIdempotent(t *testing.T) {
	r := NewRegistry()
	ep := &recordingEndpoint{id: "a"}

	r.Join(1, ep)
	r.Join(1, ep)

	assert.Equal(t, 1, r.Endpoints(1))
	assert.Equal(t, 1, r.Count())

	delivered, dropped := r.PublishToUser(1, []byte("x"))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 1, ep.count())
}

func TestRegistryJoinMovesBetweenUsers(t *testing.T) {
	r := NewRegistry()
	ep := &recordingEndpoint{id: "a"}

	r.Join(1, ep)
	r.Join(2, ep)

	assert.Equal(t, 0, r.Endpoints(1))
	assert.Equal(t, 1, r.Endpoints(2))
	assert.Equal(t, 1, r.Count())
}

func TestRegistryLeave(t *testing.T) {
	r := NewRegistry()
	ep := &recordingEndpoint{id: "a"}

	assert.False(t, r.Leave(ep), "leave before join")

	r.Join(1, ep)
	assert.True(t, r.Leave(ep))
	assert.False(t, r.Leave(ep), "second leave")
	assert.Equal(t, 0, r.Count())

	delivered, _ := r.PublishToUser(1, []byte("x"))
	assert.Equal(t, 0, delivered)
}

func TestRegistryPublishIsolation(t *testing.T) {
	r := NewRegistry()
	a1 := &recordingEndpoint{id: "a1"}
	a2 := &recordingEndpoint{id: "a2"}
	b1 := &recordingEndpoint{id: "b1"}
	r.Join(1, a1)
	r.Join(1, a2)
	r.Join(2, b1)

	type tcase struct {
		publish func()
		want    map[*recordingEndpoint]int
	}
	tests := map[string]tcase{
		"to user 1": {
			publish: func() { r.PublishToUser(1, []byte("x")) },
			want:    map[*recordingEndpoint]int{a1: 1, a2: 1, b1: 0},
		},
		"to user 2": {
			publish: func() { r.PublishToUser(2, []byte("x")) },
			want:    map[*recordingEndpoint]int{a1: 1, a2: 1, b1: 1},
		},
		"to unknown user": {
			publish: func() { r.PublishToUser(3, []byte("x")) },
			want:    map[*recordingEndpoint]int{a1: 1, a2: 1, b1: 1},
		},
		"to all": {
			publish: func() { r.PublishToAll([]byte("x")) },
			want:    map[*recordingEndpoint]int{a1: 2, a2: 2, b1: 2},
		},
	}

	// Cases build on each other, so run them in order.
	for _, name := range []string{"to user 1", "to user 2", "to unknown user", "to all"} {
		tc := tests[name]
		t.Run(name, func(t *testing.T) {
			tc.publish()
			for ep, want := range tc.want {
				assert.Equal(t, want, ep.count(), "endpoint %s", ep.id)
			}
		})
	}
}

func TestRegistryPublishCountsDrops(t *testing.T) {
	r := NewRegistry()
	ok := &recordingEndpoint{id: "ok"}
	broken := &recordingEndpoint{id: "broken", fail: true}
	r.Join(1, ok)
	r.Join(1, broken)

	delivered, dropped := r.PublishToUser(1, []byte("x"))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 2, r.Endpoints(1), "failed delivery does not unregister")
}

func TestRegistryConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ep := &recordingEndpoint{id: string(rune('A' + i))}
			r.Join(int64(i%3), ep)
			r.PublishToAll([]byte("x"))
			r.Leave(ep)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Count())
}
