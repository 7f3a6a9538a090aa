package provider

import "testing"

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"ab", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"abcdefgh", 2},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestCost(t *testing.T) {
	if got := Cost(2000, 0.5); got != 1.0 {
		t.Errorf("Cost(2000, 0.5) = %v", got)
	}
	if got := Cost(0, 0.5); got != 0 {
		t.Errorf("Cost(0, 0.5) = %v", got)
	}
}
