package buffers

import (
	"sync"
	"testing"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
)

func TestVerifyBufferPool(t *testing.T) {
	buf := GetVerifyBuffer(4096)
	if buf == nil {
		t.Fatal("GetVerifyBuffer returned nil")
	}
	if len(*buf) != constants.VerifyBufferSize {
		t.Errorf("Buffer size = %d, want %d", len(*buf), constants.VerifyBufferSize)
	}
	PutVerifyBuffer(buf)

	buf2 := GetVerifyBuffer(constants.VerifyBufferSize)
	if buf2 == nil {
		t.Fatal("GetVerifyBuffer returned nil on second call")
	}
	PutVerifyBuffer(buf2)
}

func TestGetVerifyBufferOversized(t *testing.T) {
	n := constants.VerifyBufferSize + 1
	buf := GetVerifyBuffer(n)
	if len(*buf) != n {
		t.Errorf("Buffer size = %d, want %d", len(*buf), n)
	}
	// Not pooled; must not panic.
	PutVerifyBuffer(buf)
}

func TestPutVerifyBufferIgnoresWrongSize(t *testing.T) {
	wrong := make([]byte, 1024)
	PutVerifyBuffer(&wrong)
	PutVerifyBuffer(nil)

	buf := GetVerifyBuffer(1)
	if len(*buf) != constants.VerifyBufferSize {
		t.Errorf("Pool returned a foreign buffer of size %d", len(*buf))
	}
}

func TestVerifyBufferConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				buf := GetVerifyBuffer(512)
				(*buf)[0] = byte(i)
				PutVerifyBuffer(buf)
			}
		}(i)
	}
	wg.Wait()

	if s := GetStats(); s.VerifyAllocations < 1 {
		t.Errorf("VerifyAllocations = %d, want >= 1", s.VerifyAllocations)
	}
}
