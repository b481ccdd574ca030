package buffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oskimark/snifer-mac/internal/domain"
)

func TestCaptureBufferAppendDrainOrder(t *testing.T) {
	b := NewCaptureBuffer(4)

	r1 := domain.DetectionRecord{NodeID: "n1", HardwareAddress: "AA:BB:CC:DD:EE:01"}
	r2 := domain.DetectionRecord{NodeID: "n1", HardwareAddress: "AA:BB:CC:DD:EE:02"}
	r3 := domain.DetectionRecord{NodeID: "n2", HardwareAddress: "AA:BB:CC:DD:EE:01"}

	assert.Equal(t, 1, b.Append(r1))
	assert.Equal(t, 2, b.Append(r2))
	assert.Equal(t, 3, b.Append(r3))

	got := b.DrainAll()
	require.Equal(t, []domain.DetectionRecord{r1, r2, r3}, got)

	assert.Empty(t, b.DrainAll())
	assert.Equal(t, 0, b.Len())
}

func TestCaptureBufferDrainDoesNotAliasNewAppends(t *testing.T) {
	b := NewCaptureBuffer(2)
	b.Append(domain.DetectionRecord{NodeID: "a"})
	drained := b.DrainAll()

	b.Append(domain.DetectionRecord{NodeID: "b"})
	require.Len(t, drained, 1)
	assert.Equal(t, "a", drained[0].NodeID)
	assert.Equal(t, 1, b.Len())
}

func TestCaptureBufferConcurrentAppendDrainLosesNothing(t *testing.T) {
	b := NewCaptureBuffer(16)
	const writers, perWriter = 8, 500

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				b.Append(domain.DetectionRecord{NodeID: fmt.Sprintf("%d-%d", w, i)})
			}
		}(w)
	}

	seen := make(map[string]bool)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		for _, r := range b.DrainAll() {
			seen[r.NodeID] = true
		}
		select {
		case <-done:
			for _, r := range b.DrainAll() {
				seen[r.NodeID] = true
			}
			assert.Len(t, seen, writers*perWriter)
			return
		default:
		}
	}
}
