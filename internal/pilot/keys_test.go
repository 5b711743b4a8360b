package pilot

import "testing"

func TestResolveKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"space", "space", true},
		{"空格", "space", true},
		{" Enter ", "enter", true},
		{"回车", "enter", true},
		{"上", "up", true},
		{"z", "z", true},
		{"5", "5", true},
		{"", "", false},
		{"ctrl+alt", "", false},
		{"nosuchkey", "", false},
	}
	for _, c := range cases {
		got, ok := ResolveKey(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("ResolveKey(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestIsQuickAdvance(t *testing.T) {
	for _, yes := range []string{"g", "G", "gal", " gal "} {
		if !IsQuickAdvance(yes) {
			t.Errorf("IsQuickAdvance(%q) = false, want true", yes)
		}
	}
	for _, no := range []string{"go", "", "g al", "gall"} {
		if IsQuickAdvance(no) {
			t.Errorf("IsQuickAdvance(%q) = true, want false", no)
		}
	}
}
