package normalize

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		reject bool
		url    string
		opt    Options
	}{
		{name: "empty", path: "/", reject: true},
		{name: "plain", path: "/example.com/img.png", url: "http://example.com/img.png"},
		{name: "with scheme", path: "/http://example.com/img.png", url: "http://example.com/img.png"},
		{name: "https scheme kept", path: "/https://example.com/img.png", url: "https://example.com/img.png"},
		{name: "width height", path: "/200/100/example.com/img.png", url: "http://example.com/img.png", opt: Options{Width: 200, Height: 100}},
		{name: "width only", path: "/200/example.com/img.png", url: "http://example.com/img.png", opt: Options{Width: 200}},
		{name: "still", path: "/still/example.com/img.gif", url: "http://example.com/img.gif", opt: Options{Still: true}},
		{name: "still with dims", path: "/still/200/100/example.com/img.gif", url: "http://example.com/img.gif", opt: Options{Still: true, Width: 200, Height: 100}},
		{name: "zero both", path: "/0/0/example.com/img.png", url: "http://example.com/img.png"},
		{name: "amp decode", path: "/example.com/img.png?a=1&amp;b=2", url: "http://example.com/img.png?a=1&b=2"},
		{name: "space encode", path: "/example.com/my image.png", url: "http://example.com/my%20image.png"},
		{name: "broken scheme", path: "/http:/example.com/img.png", url: "http://example.com/img.png"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Parse(c.path)
			if got.Reject != c.reject {
				t.Fatalf("reject = %v, want %v", got.Reject, c.reject)
			}
			if c.reject {
				return
			}
			if got.URL != c.url {
				t.Fatalf("URL = %q, want %q", got.URL, c.url)
			}
			if got.Options != c.opt {
				t.Fatalf("Options = %+v, want %+v", got.Options, c.opt)
			}
		})
	}
}

func TestOptionsSuffix(t *testing.T) {
	if (Options{}).Suffix() != "" {
		t.Fatalf("empty options must have empty suffix")
	}
	a := Options{Width: 200, Height: 100}
	b := Options{Width: 200, Height: 100}
	if a.Suffix() != b.Suffix() {
		t.Fatalf("equal options must produce equal suffixes")
	}
	if a.Suffix() == (Options{Width: 100, Height: 200}).Suffix() {
		t.Fatalf("distinct options must produce distinct suffixes")
	}
}
