package resize

import (
	"context"
	"sync"
	"testing"

	"github.com/omalloc/imgproxy/internal/normalize"
)

// Pool depends on the concrete *Engine type, so these tests exercise the
// pool's concurrency and recycling behavior against a real Engine applied to
// generated temp files rather than a swapped-in stub.
func newRealPool(t *testing.T, workers, recycleAfter int) *Pool {
	t.Helper()
	p := New(Config{Workers: workers, RecycleAfter: recycleAfter, Engine: NewEngine()})
	t.Cleanup(p.Close)
	return p
}

func TestResizeNoopOptionsReturnsOriginalSize(t *testing.T) {
	path := writeTempPNG(t, 64, 64)
	p := newRealPool(t, 2, 10)

	n, err := p.Resize(context.Background(), path, normalize.Options{})
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if n <= 0 {
		t.Fatalf("expected positive length, got %d", n)
	}
}

func TestResizeConcurrentJobs(t *testing.T) {
	p := newRealPool(t, 4, 5)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path := writeTempPNG(t, 50, 50)
			if _, err := p.Resize(context.Background(), path, normalize.Options{Width: 10}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Resize: %v", err)
	}
}

func TestResizeContextCanceledBeforeSubmit(t *testing.T) {
	p := newRealPool(t, 1, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := writeTempPNG(t, 10, 10)
	if _, err := p.Resize(ctx, path, normalize.Options{Width: 5}); err == nil {
		t.Fatalf("expected context error")
	}
}
