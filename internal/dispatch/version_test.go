package dispatch

import "testing"

func TestCompareVersion(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.2.3", "1.2.3", 0},
		{"1.2.3", "1.2.4", -1},
		{"1.3.0", "1.2.9", 1},
		{"2.0.0", "1.9.9", 1},
		{"1.2", "1.2.0", 0},
		{"1.2.3", "freedom", -1},
		{"freedom", "1.2.3", 1},
		{"freedom", "freedom", 0},
		{"1.x.3", "1.0.3", 0},
	}

	for _, c := range cases {
		got := CompareVersion(c.a, c.b)
		if got != c.want {
			t.Errorf("CompareVersion(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
