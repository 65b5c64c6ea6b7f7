package store

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/magnetprobe/internal/reading"
	"github.com/banshee-data/magnetprobe/internal/timeutil"
)

func sampleReading() reading.Reading {
	return reading.Reading{
		ProbeX: 5, ProbeY: 10, ProbeDepth: 2,
		MagnetLength: 30, MagnetWidth: 20, MagnetHeight: 5,
		Progress: 50,
	}
}

func TestNew_ReturnsDefault(t *testing.T) {
	s := New()
	if diff := cmp.Diff(reading.Default(), s.Get()); diff != "" {
		t.Errorf("Get() on fresh store mismatch (-want +got):\n%s", diff)
	}
	_, at := s.Snapshot()
	assert.True(t, at.IsZero(), "fresh store should have zero update time")
}

func TestSetGet_RoundTrip(t *testing.T) {
	tests := []reading.Reading{
		sampleReading(),
		{ProbeDepth: -3, MagnetLength: 1, MagnetWidth: 1, MagnetHeight: 1},
		{ProbeX: -12.5, ProbeY: 1e6, ProbeDepth: 0, Progress: -1},
		{},
	}
	s := New()
	for _, r := range tests {
		s.Set(r)
		if diff := cmp.Diff(r, s.Get()); diff != "" {
			t.Errorf("Get() after Set() mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestSet_StampsUpdateTime(t *testing.T) {
	start := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	s := New(WithClock(clock))

	at := s.Set(sampleReading())
	assert.True(t, at.Equal(start))

	clock.Advance(time.Minute)
	s.Set(reading.Default())
	r, at := s.Snapshot()
	assert.Equal(t, reading.Default(), r)
	assert.True(t, at.Equal(start.Add(time.Minute)))
}

func TestRestore(t *testing.T) {
	s := New()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.Restore(sampleReading(), at)

	r, got := s.Snapshot()
	assert.Equal(t, sampleReading(), r)
	assert.True(t, got.Equal(at))
}

func TestConcurrentSetGet(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r := sampleReading()
			r.Progress = float64(i)
			s.Set(r)
		}(i)
		go func() {
			defer wg.Done()
			got := s.Get()
			// Every observed value is either the default or a complete write.
			if got != reading.Default() {
				assert.Equal(t, 5.0, got.ProbeX)
				assert.Equal(t, 30.0, got.MagnetLength)
			}
		}()
	}
	wg.Wait()

	got := s.Get()
	assert.GreaterOrEqual(t, got.Progress, 0.0)
	assert.Less(t, got.Progress, 50.0)
}
