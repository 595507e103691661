package band

import "testing"

func TestFromFrequency(t *testing.T) {
	tests := []struct {
		name string
		freq string
		want int
	}{
		{name: "160m lower edge", freq: "1800.0", want: 160},
		{name: "80m", freq: "3573.0", want: 80},
		{name: "60m", freq: "5357.0", want: 60},
		{name: "40m", freq: "7074.0", want: 40},
		{name: "30m", freq: "10136.0", want: 30},
		{name: "20m", freq: "14197.0", want: 20},
		{name: "17m", freq: "18100.0", want: 17},
		{name: "15m", freq: "21074.5", want: 15},
		{name: "12m", freq: "24915.0", want: 12},
		{name: "10m", freq: "28075.6", want: 10},
		{name: "10m upper edge", freq: "29700.0", want: 10},
		{name: "6m", freq: "50313.0", want: 6},
		{name: "between 30m and 20m", freq: "12000.0", want: Unknown},
		{name: "below all bands", freq: "500.0", want: Unknown},
		{name: "above all bands", freq: "144200.0", want: Unknown},
		{name: "no fractional part", freq: "14250", want: 20},
		{name: "not a number", freq: "QRM", want: Unknown},
		{name: "empty", freq: "", want: Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromFrequency(tt.freq); got != tt.want {
				t.Errorf("FromFrequency(%q) = %d, want %d", tt.freq, got, tt.want)
			}
		})
	}
}

func TestName(t *testing.T) {
	if got := Name(20); got != "20m" {
		t.Errorf("Name(20) = %q, want 20m", got)
	}
	if got := Name(Unknown); got != "unknown" {
		t.Errorf("Name(Unknown) = %q, want unknown", got)
	}
}
