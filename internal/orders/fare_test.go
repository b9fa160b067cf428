package orders

import "testing"

func TestFareForDistance(t *testing.T) {
	cases := []struct {
		meters float64
		want   int64
	}{
		{0, 250},
		{1000, 370},
		{2500, 550},
		{-5, 250},
	}
	for _, c := range cases {
		if got := FareForDistance(c.meters); got != c.want {
			t.Errorf("FareForDistance(%v) = %d, want %d", c.meters, got, c.want)
		}
	}
}
