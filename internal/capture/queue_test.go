package capture

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameWithSeq(seq byte) *Frame {
	f := NewFrame(1, 1)
	f.Pix[0] = seq
	return f
}

func TestFrameQueue_NeverExceedsCapacity(t *testing.T) {
	q := NewFrameQueue(2)

	for i := 1; i <= 10; i++ {
		assert.True(t, q.Push(frameWithSeq(byte(i))))
		assert.LessOrEqual(t, q.Len(), 2)
	}

	first, ok := q.TryPop()
	require.True(t, ok)
	second, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, byte(9), first.Pix[0])
	assert.Equal(t, byte(10), second.Pix[0])

	_, ok = q.TryPop()
	assert.False(t, ok)
	assert.Equal(t, uint64(8), q.Dropped())
}

func TestFrameQueue_DefaultCapacity(t *testing.T) {
	q := NewFrameQueue(0)
	assert.Equal(t, DefaultQueueSize, q.Cap())
}

func TestFrameQueue_ConcurrentConsumer(t *testing.T) {
	q := NewFrameQueue(2)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			q.TryPop()
		}
	}()

	for i := 0; i < 1000; i++ {
		q.Push(frameWithSeq(byte(i)))
		assert.LessOrEqual(t, q.Len(), 2)
	}
	wg.Wait()
}

func TestFrame_CloneIsIndependent(t *testing.T) {
	f := frameWithSeq(1)
	c := f.Clone()
	f.Pix[0] = 2

	assert.Equal(t, byte(1), c.Pix[0])
	assert.Equal(t, f.Width, c.Width)
	assert.Equal(t, f.Timestamp, c.Timestamp)
}

func TestFrame_ImageRoundTrip(t *testing.T) {
	f := NewFrame(2, 1)
	copy(f.Pix, []byte{10, 20, 30, 40, 50, 60})

	img := f.ToImage()
	back := FrameFromImage(img)

	assert.Equal(t, f.Pix, back.Pix)
	assert.Equal(t, 3, back.Channels)
}
