package pool

import "testing"

func TestFixedBufferPool(t *testing.T) {
	fp := NewFixedBuffer(4096)

	bufPtr := fp.Get()
	if bufPtr == nil {
		t.Fatal("Get returned nil")
	}
	if len(*bufPtr) != 4096 {
		t.Errorf("expected buffer length 4096, got %d", len(*bufPtr))
	}

	// Returning the buffer and getting again must yield a full-length slice
	// even if the caller shrank it.
	*bufPtr = (*bufPtr)[:10]
	fp.Put(bufPtr)

	again := fp.Get()
	if len(*again) != 4096 {
		t.Errorf("expected recycled buffer length 4096, got %d", len(*again))
	}
}

func TestFixedBufferPoolRejectsForeignBuffers(t *testing.T) {
	fp := NewFixedBuffer(1024)

	// A wrong-sized buffer must not poison the pool.
	foreign := make([]byte, 64)
	fp.Put(&foreign)
	fp.Put(nil)

	bufPtr := fp.Get()
	if len(*bufPtr) != 1024 {
		t.Errorf("expected buffer length 1024, got %d", len(*bufPtr))
	}
}
