package refgate

import "testing"

func TestGateCheck(t *testing.T) {
	t.Run("empty allow-list always allows", func(t *testing.T) {
		g := New(nil)
		if g.Check("https://evil.example/") != Allow {
			t.Fatalf("expected allow")
		}
	})

	t.Run("empty referer always allows", func(t *testing.T) {
		g := New([]string{`^https://good\.example/`})
		if g.Check("") != Allow {
			t.Fatalf("expected allow")
		}
	})

	t.Run("matching pattern allows", func(t *testing.T) {
		g := New([]string{`^https://good\.example/`})
		if g.Check("https://good.example/page") != Allow {
			t.Fatalf("expected allow")
		}
	})

	t.Run("non-matching referer redirects", func(t *testing.T) {
		g := New([]string{`^https://good\.example/`})
		if g.Check("https://evil.example/") != Redirect {
			t.Fatalf("expected redirect")
		}
	})

	t.Run("invalid pattern skipped, not fatal", func(t *testing.T) {
		g := New([]string{`(unterminated`, `^https://good\.example/`})
		if len(g.patterns) != 1 {
			t.Fatalf("expected invalid pattern to be skipped, got %d patterns", len(g.patterns))
		}
	})
}
