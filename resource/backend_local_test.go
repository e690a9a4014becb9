package resource

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestLocalBackend_Basic(t *testing.T) {
	b := NewLocalBackend()

	handle, err := b.Create(1, "test value")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if handle == 0 {
		t.Fatal("Expected non-zero handle")
	}

	val, ok := b.Get(handle)
	if !ok {
		t.Fatal("Get failed")
	}
	if val != "test value" {
		t.Fatalf("Expected 'test value', got %v", val)
	}

	val, ok = b.Drop(handle)
	if !ok {
		t.Fatal("Drop failed")
	}
	if val != "test value" {
		t.Fatalf("Expected 'test value', got %v", val)
	}

	if _, ok = b.Get(handle); ok {
		t.Fatal("Expected Get to fail after Drop")
	}
	if _, ok = b.Get(0); ok {
		t.Fatal("Handle 0 must never resolve")
	}
}

func TestLocalBackend_RefCount(t *testing.T) {
	b := NewLocalBackend()
	handle, _ := b.Create(1, "v")

	for i := 1; i <= 3; i++ {
		refs, ok := b.AddRef(handle)
		if !ok || refs != int32(i) {
			t.Fatalf("AddRef %d = %d, %v", i, refs, ok)
		}
	}

	for i := 2; i >= 1; i-- {
		_, refs, dropped, ok := b.Release(handle)
		if !ok || dropped || refs != int32(i) {
			t.Fatalf("Release = refs %d dropped %v ok %v, want refs %d", refs, dropped, ok, i)
		}
	}

	value, _, dropped, ok := b.Release(handle)
	if !ok || !dropped || value != "v" {
		t.Fatalf("last Release = %v %v %v", value, dropped, ok)
	}
	if _, ok := b.Get(handle); ok {
		t.Fatal("value should be gone after last release")
	}
}

func TestLocalBackend_StaleHandle(t *testing.T) {
	b := NewLocalBackend()

	h1, _ := b.Create(1, "first")
	b.Drop(h1)

	h2, _ := b.Create(1, "second")
	if h1.slot() != h2.slot() {
		t.Fatalf("expected slot reuse, got %d and %d", h1.slot(), h2.slot())
	}
	if h1 == h2 {
		t.Fatal("reused slot must produce a different handle")
	}

	if _, ok := b.Get(h1); ok {
		t.Fatal("stale handle must not resolve")
	}
	if _, ok := b.Drop(h1); ok {
		t.Fatal("stale handle must not drop the new value")
	}
	if v, ok := b.Get(h2); !ok || v != "second" {
		t.Fatalf("Get(h2) = %v, %v", v, ok)
	}
}

func TestLocalBackend_CompareAndDrop(t *testing.T) {
	b := NewLocalBackend()
	owner := &struct{ name string }{"owner"}
	other := &struct{ name string }{"other"}

	h, _ := b.Create(1, owner)

	if b.CompareAndDrop(h, other) {
		t.Fatal("CompareAndDrop must not drop a different value")
	}
	if !b.CompareAndDrop(h, owner) {
		t.Fatal("CompareAndDrop should drop the matching value")
	}
	if b.CompareAndDrop(h, owner) {
		t.Fatal("second CompareAndDrop must fail")
	}
}

func TestLocalBackend_CompareAndDropRace(t *testing.T) {
	b := NewLocalBackend()
	token := &struct{}{}
	h, _ := b.Create(1, token)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.CompareAndDrop(h, token) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

type dropCounter struct{ n *int }

func (d dropCounter) Drop() { *d.n++ }

func TestLocalBackend_Close(t *testing.T) {
	b := NewLocalBackend()

	drops := 0
	b.Create(1, dropCounter{&drops})
	b.Create(1, dropCounter{&drops})

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if drops != 2 {
		t.Fatalf("expected 2 drops, got %d", drops)
	}

	_, err := b.Create(1, "test")
	if !errors.Is(err, ErrClosed) {
		t.Fatal("Expected ErrClosed after Close")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestLocalBackend_Concurrent(t *testing.T) {
	b := NewLocalBackend()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			h, _ := b.Create(1, id)
			b.AddRef(h)
			b.Release(h)
		}(i)
	}

	wg.Wait()

	if b.Len() != 0 {
		t.Fatalf("expected empty backend, got %d", b.Len())
	}
}
