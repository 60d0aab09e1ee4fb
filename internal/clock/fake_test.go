package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeTimerFiresOnAdvance(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	tm := f.NewTimer(time.Second)
	assert.Equal(t, 1, f.Waiters())

	f.Advance(999 * time.Millisecond)
	select {
	case <-tm.C():
		t.Fatal("fired early")
	default:
	}

	f.Advance(time.Millisecond)
	select {
	case at := <-tm.C():
		assert.Equal(t, time.Unix(1, 0), at)
	default:
		t.Fatal("did not fire")
	}
	assert.False(t, tm.Stop())
}

func TestFakeTimerStopRemovesWaiter(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	keep := f.NewTimer(time.Minute)
	tm := f.NewTimer(time.Second)
	assert.Equal(t, 2, f.Waiters())

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	assert.Equal(t, 1, f.Waiters())

	f.Advance(time.Minute)
	assert.Len(t, keep.C(), 1)
	assert.Len(t, tm.C(), 0)
}

func TestFakeAutoAdvance(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	f.AutoAdvance = true

	<-f.NewTimer(2 * time.Second).C()
	assert.Equal(t, time.Unix(2, 0), f.Now())
	assert.Zero(t, f.Waiters())
	assert.Equal(t, []time.Duration{2 * time.Second}, f.Requested())
}
