package buffer

import (
	"fmt"
	"sync"
	"testing"
)

func TestRingBufferAddAndBytes(t *testing.T) {
	rb := RingN[int](4)

	if got := rb.Bytes(); len(got) != 0 {
		t.Fatalf("empty ring Bytes() = %v, want empty", got)
	}

	rb.Add(1)
	rb.Add(2)
	rb.Add(3)

	if got, want := rb.Len(), 3; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	want := []int{1, 2, 3}
	got := rb.Bytes()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Bytes() = %v, want %v", got, want)
		}
	}
}

func TestRingBufferOverwritesOldest(t *testing.T) {
	rb := RingN[int](3)
	for i := 1; i <= 7; i++ {
		rb.Add(i)
	}

	if got, want := rb.Len(), 3; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	want := []int{5, 6, 7}
	got := rb.Bytes()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Bytes() = %v, want %v", got, want)
		}
	}
}

func TestRingBufferLast(t *testing.T) {
	rb := RingN[string](5)
	for i := 0; i < 8; i++ {
		rb.Add(fmt.Sprintf("line-%d", i))
	}

	got := rb.Last(2)
	if len(got) != 2 || got[0] != "line-6" || got[1] != "line-7" {
		t.Fatalf("Last(2) = %v, want [line-6 line-7]", got)
	}

	// Asking for more than buffered returns everything.
	got = rb.Last(100)
	if len(got) != 5 || got[0] != "line-3" {
		t.Fatalf("Last(100) = %v, want 5 items from line-3", got)
	}
}

func TestRingBufferReset(t *testing.T) {
	rb := RingN[int](3)
	rb.Add(1)
	rb.Add(2)
	rb.Reset()

	if rb.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", rb.Len())
	}
	rb.Add(9)
	got := rb.Bytes()
	if len(got) != 1 || got[0] != 9 {
		t.Fatalf("Bytes() after Reset+Add = %v, want [9]", got)
	}
}

func TestRingBufferConcurrentAdd(t *testing.T) {
	rb := RingN[int](64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rb.Add(i)
			}
		}()
	}
	wg.Wait()

	if got, want := rb.Len(), 64; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
}
