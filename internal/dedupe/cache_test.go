package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, size int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := newCache(ttl, size, clock.Now)
	t.Cleanup(c.Close)
	return c, clock
}

func TestCheckAndMark(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	assert.False(t, c.CheckAndMark("wamid.1"), "first delivery is new")
	assert.True(t, c.CheckAndMark("wamid.1"), "redelivery is a duplicate")
	assert.False(t, c.CheckAndMark("wamid.2"))
	assert.True(t, c.Seen("wamid.2"))
}

func TestEmptyIDNeverDuplicate(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	assert.False(t, c.CheckAndMark(""))
	assert.False(t, c.CheckAndMark(""))
	assert.Equal(t, 0, c.Len())
}

func TestExpiry(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.CheckAndMark("wamid.1")
	clock.Advance(59 * time.Second)
	assert.True(t, c.Seen("wamid.1"))

	clock.Advance(2 * time.Second)
	assert.False(t, c.Seen("wamid.1"))
	assert.False(t, c.CheckAndMark("wamid.1"), "expired id is processed again")
}

func TestForget(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	c.CheckAndMark("wamid.1")
	c.Forget("wamid.1")
	assert.False(t, c.CheckAndMark("wamid.1"))
	c.Forget("unknown")
}

func TestEvictsOldestWhenFull(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 3)

	for i := range 4 {
		c.CheckAndMark(fmt.Sprintf("id-%d", i))
	}
	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("id-0"))
	assert.True(t, c.Seen("id-3"))
}

func TestRemoveExpired(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.CheckAndMark("old")
	clock.Advance(90 * time.Second)
	c.CheckAndMark("fresh")

	c.removeExpired()
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("fresh"))
}

func TestConcurrentCheckAndMark(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 100)

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("same-id") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fresh.Load())
}

func TestCloseTwice(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
