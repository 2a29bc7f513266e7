// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build !integration

package ringbuffer_test

import (
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/antimetal/watchdog/pkg/ringbuffer"
)

// BenchmarkRingBuffer_Push benchmarks the Push operation
func BenchmarkRingBuffer_Push(b *testing.B) {
	sizes := []int{10, 100, 1000, 10000}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("size_%d", size), func(b *testing.B) {
			rb, _ := ringbuffer.New[int](size)
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				rb.Push(i)
			}
		})
	}
}

// BenchmarkRingBuffer_Push_Struct benchmarks pushing structs
func BenchmarkRingBuffer_Push_Struct(b *testing.B) {
	type event struct {
		Timestamp uint64
		PID       int32
		TID       int32
		CPU       uint32
	}

	rb, _ := ringbuffer.New[event](1000)
	e := event{
		Timestamp: 1234567890,
		PID:       1234,
		TID:       5678,
		CPU:       0,
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		rb.Push(e)
	}
}

// BenchmarkRingBuffer_GetAll benchmarks the GetAll operation
func BenchmarkRingBuffer_GetAll(b *testing.B) {
	sizes := []int{10, 100, 1000}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("size_%d", size), func(b *testing.B) {
			rb, _ := ringbuffer.New[int](size)

			// Fill the buffer
			for i := 0; i < size; i++ {
				rb.Push(i)
			}

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				_ = rb.GetAll()
			}
		})
	}
}

// BenchmarkRingBuffer_PushAndGetAll benchmarks alternating push and getall
func BenchmarkRingBuffer_PushAndGetAll(b *testing.B) {
	rb, _ := ringbuffer.New[int](100)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		rb.Push(i)
		if i%10 == 0 {
			_ = rb.GetAll()
		}
	}
}

// BenchmarkRingBuffer_Clear benchmarks the Clear operation
func BenchmarkRingBuffer_Clear(b *testing.B) {
	rb, _ := ringbuffer.New[int](1000)

	// Fill the buffer
	for i := 0; i < 1000; i++ {
		rb.Push(i)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		rb.Clear()
		// Re-fill for next iteration
		for j := 0; j < 1000; j++ {
			rb.Push(j)
		}
	}
}

// BenchmarkRingBuffer_Memory measures memory usage for different sizes
func BenchmarkRingBuffer_Memory(b *testing.B) {
	sizes := []int{100, 1000, 10000, 100000}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("size_%d", size), func(b *testing.B) {
			var m1, m2 runtime.MemStats
			runtime.GC()
			runtime.ReadMemStats(&m1)

			rb, _ := ringbuffer.New[int](size)

			// Fill the buffer
			for i := 0; i < size; i++ {
				rb.Push(i)
			}

			runtime.GC()
			runtime.ReadMemStats(&m2)

			allocated := m2.HeapAlloc - m1.HeapAlloc
			b.ReportMetric(float64(allocated), "bytes")
			b.ReportMetric(float64(allocated)/float64(size), "bytes/element")
		})
	}
}

// BenchmarkRingBuffer_ConcurrentAccess simulates concurrent access patterns
// Note: RingBuffer is NOT thread-safe, this benchmark uses external synchronization
func BenchmarkRingBuffer_ConcurrentAccess(b *testing.B) {
	rb, _ := ringbuffer.New[int](10000)
	var mu sync.Mutex

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			mu.Lock()
			rb.Push(i)
			if i%100 == 0 {
				_ = rb.GetAll()
			}
			mu.Unlock()
			i++
		}
	})
}

// BenchmarkRingBuffer_Record benchmarks with a struct shaped like a periodic perf record
func BenchmarkRingBuffer_Record(b *testing.B) {
	type userStat struct {
		UID   uint32
		Bytes [2][2]uint64
		Fsync [2]uint64
	}
	type record struct {
		Time      int64
		TopReads  []userStat
		TopWrites []userStat
		IOWait    uint64
		CPUTime   uint64
	}

	// Periodic collections retain 180 records by default
	capacity := 180
	rb, _ := ringbuffer.New[record](capacity)

	rec := record{
		Time:      1234567890,
		TopReads:  make([]userStat, 5),
		TopWrites: make([]userStat, 5),
		IOWait:    100,
		CPUTime:   10000,
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		rb.Push(rec)
	}
}

// BenchmarkRingBuffer_Overflow benchmarks performance when buffer overflows
func BenchmarkRingBuffer_Overflow(b *testing.B) {
	rb, _ := ringbuffer.New[int](100)

	// Pre-fill to ensure we're always overwriting
	for i := 0; i < 100; i++ {
		rb.Push(i)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		rb.Push(i)
	}
}

// BenchmarkRingBuffer_ZeroAllocation verifies zero allocations in hot path
func BenchmarkRingBuffer_ZeroAllocation(b *testing.B) {
	rb, _ := ringbuffer.New[int](1000)

	// Pre-fill
	for i := 0; i < 500; i++ {
		rb.Push(i)
	}

	b.ResetTimer()
	b.ReportAllocs()

	// This should show 0 allocs/op
	for i := 0; i < b.N; i++ {
		rb.Push(i)
		_ = rb.Len()
		_ = rb.Cap()
	}
}
