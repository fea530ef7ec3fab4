package buffer

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAndCurrent(t *testing.T) {
	b := New(0)
	assert.Equal(t, DefaultCapacity, b.Capacity())

	require.NoError(t, b.Submit([]byte("-s 5 brew coffee")))
	assert.Equal(t, "-s 5 brew coffee", string(b.Current()))
	assert.Equal(t, 16, b.Offset())
}

func TestSubmitLastWriteWins(t *testing.T) {
	b := New(64)

	require.NoError(t, b.Submit([]byte("-s 5 first")))
	require.NoError(t, b.Submit([]byte("-r")))

	assert.Equal(t, "-r", string(b.Current()))
}

func TestSubmitTooLarge(t *testing.T) {
	b := New(8)
	require.NoError(t, b.Submit([]byte("-r")))

	err := b.Submit(bytes.Repeat([]byte("x"), 9))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))

	// Oversize submissions reset the buffer
	assert.Empty(t, b.Current())
	assert.Equal(t, 0, b.Offset())
}

func TestSubmitExactCapacity(t *testing.T) {
	b := New(8)
	require.NoError(t, b.Submit([]byte("12345678")))
	assert.Equal(t, "12345678", string(b.Current()))
}

func TestSubmitOverflowResets(t *testing.T) {
	b := New(10)

	require.NoError(t, b.Submit([]byte("-m 3")))
	require.NoError(t, b.Submit([]byte("-m 4")))
	assert.Equal(t, 8, b.Offset())

	// Does not fit after offset 8, so the buffer starts over
	require.NoError(t, b.Submit([]byte("-m 5")))
	assert.Equal(t, "-m 5", string(b.Current()))
	assert.Equal(t, 4, b.Offset())
}

func TestCurrentReturnsCopy(t *testing.T) {
	b := New(16)
	require.NoError(t, b.Submit([]byte("-r")))

	got := b.Current()
	got[0] = 'X'

	assert.Equal(t, "-r", string(b.Current()))
}

func TestReset(t *testing.T) {
	b := New(16)
	require.NoError(t, b.Submit([]byte("-m 2")))

	b.Reset()

	assert.Empty(t, b.Current())
	assert.Equal(t, 0, b.Offset())
}

func TestConcurrentSubmitAndRead(t *testing.T) {
	b := New(DefaultCapacity)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = b.Submit([]byte(fmt.Sprintf("-m %d", n)))
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				cur := b.Current()
				// A reader never sees a torn write
				if len(cur) > 0 && !bytes.HasPrefix(cur, []byte("-m ")) {
					t.Errorf("torn command %q", cur)
					return
				}
			}
		}()
	}
	wg.Wait()
}
