package hostcounter

import "testing"

func TestIncrAndGet(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	for i := 0; i < 3; i++ {
		if _, err := c.Incr("example.com"); err != nil {
			t.Fatalf("Incr: %v", err)
		}
	}

	got, err := c.Get("example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
}

func TestGetUnknownHostIsZero(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	got, err := c.Get("never-seen.example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 0 {
		t.Fatalf("count = %d, want 0", got)
	}
}

func TestIndependentHostsTrackedSeparately(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Incr("a.example.com")
	c.Incr("a.example.com")
	c.Incr("b.example.com")

	a, _ := c.Get("a.example.com")
	b, _ := c.Get("b.example.com")
	if a != 2 || b != 1 {
		t.Fatalf("a=%d b=%d, want a=2 b=1", a, b)
	}
}
