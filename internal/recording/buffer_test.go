package recording

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkPacket(size int, keyframe bool) Packet {
	return Packet{Data: make([]byte, size), Keyframe: keyframe}
}

func TestPacketBuffer_WindowPruning(t *testing.T) {
	pool := NewBufferPool(1)
	buf, err := pool.Create("cam-1", 5)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, buf.Add(mkPacket(100, true), base))
	require.NoError(t, buf.Add(mkPacket(100, false), base.Add(2*time.Second)))
	require.NoError(t, buf.Add(mkPacket(100, false), base.Add(4*time.Second)))

	stats := buf.Stats()
	assert.Equal(t, 3, stats.PacketCount)
	assert.Equal(t, int64(300), stats.MemoryBytes)
	assert.Equal(t, 4*time.Second, stats.Duration)
	assert.Equal(t, 1, stats.KeyframeCount)

	// A packet at +8s leaves a cutoff of +3s, pushing the first two out of
	// the 5s window.
	require.NoError(t, buf.Add(mkPacket(100, true), base.Add(8*time.Second)))

	stats = buf.Stats()
	assert.Equal(t, 2, stats.PacketCount)
	assert.Equal(t, int64(200), stats.MemoryBytes)
	assert.Equal(t, int64(200), pool.UsageBytes())
}

func TestBufferPool_EvictsGloballyOldest(t *testing.T) {
	pool := NewBufferPool(1) // 1 MB cap
	old, err := pool.Create("cam-old", 3600)
	require.NoError(t, err)
	fresh, err := pool.Create("cam-fresh", 3600)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Fill the pool: 2 x 512 KB.
	require.NoError(t, old.Add(mkPacket(512*1024, true), base))
	require.NoError(t, fresh.Add(mkPacket(512*1024, true), base.Add(time.Second)))
	assert.Equal(t, int64(1024*1024), pool.UsageBytes())

	// The next add overflows the cap; the oldest packet pool-wide lives in
	// cam-old and must be the victim.
	require.NoError(t, fresh.Add(mkPacket(256*1024, false), base.Add(2*time.Second)))

	assert.Equal(t, 0, old.Stats().PacketCount)
	assert.Equal(t, 2, fresh.Stats().PacketCount)
	assert.Equal(t, uint64(1), pool.Evictions())
	assert.Equal(t, int64(768*1024), pool.UsageBytes())
}

func TestBufferPool_RejectsOversizedPacket(t *testing.T) {
	pool := NewBufferPool(1)
	buf, err := pool.Create("cam-1", 60)
	require.NoError(t, err)

	err = buf.Add(mkPacket(2*1024*1024, true), time.Now())
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, 0, buf.Stats().PacketCount)
	assert.Equal(t, int64(0), pool.UsageBytes())
}

func TestBufferPool_CreateDuplicate(t *testing.T) {
	pool := NewBufferPool(1)
	_, err := pool.Create("cam-1", 10)
	require.NoError(t, err)

	_, err = pool.Create("cam-1", 10)
	assert.ErrorIs(t, err, ErrBufferExists)
}

func TestBufferPool_RemoveReleasesMemory(t *testing.T) {
	pool := NewBufferPool(1)
	buf, err := pool.Create("cam-1", 60)
	require.NoError(t, err)
	require.NoError(t, buf.Add(mkPacket(1000, true), time.Now()))
	require.Equal(t, int64(1000), pool.UsageBytes())

	pool.Remove("cam-1")
	assert.Equal(t, int64(0), pool.UsageBytes())

	// Removing twice is harmless.
	pool.Remove("cam-1")
	assert.Equal(t, int64(0), pool.UsageBytes())
}

func TestPacketBuffer_FlushOrderAndRetention(t *testing.T) {
	pool := NewBufferPool(1)
	buf, err := pool.Create("cam-1", 60)
	require.NoError(t, err)

	base := time.Now()
	for i := 0; i < 5; i++ {
		pkt := Packet{Data: []byte{byte(i)}, PTS: int64(i)}
		require.NoError(t, buf.Add(pkt, base.Add(time.Duration(i)*time.Second)))
	}

	var got []int64
	flushed := buf.Flush(func(pkt Packet) error {
		got = append(got, pkt.PTS)
		return nil
	})

	assert.Equal(t, 5, flushed)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, got)
	// Flush is non-destructive; the window keeps filling for the next episode.
	assert.Equal(t, 5, buf.Stats().PacketCount)
}
