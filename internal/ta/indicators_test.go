package ta

import (
	"math"
	"testing"
)

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	got, ok := SMA(values, 3)
	if !ok || got != 5 {
		t.Fatalf("SMA = %v, %v; want 5", got, ok)
	}
	if _, ok := SMA(values, 7); ok {
		t.Fatal("SMA should need at least period values")
	}
	if _, ok := SMA(values, 0); ok {
		t.Fatal("SMA with zero period should fail")
	}
}

func TestRSIAllGains(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	got, ok := RSI(closes, 14)
	if !ok || got != 100 {
		t.Fatalf("RSI = %v, %v; want 100", got, ok)
	}
}

func TestRSIBalanced(t *testing.T) {
	closes := []float64{10}
	for i := 0; i < 30; i++ {
		if i%2 == 0 {
			closes = append(closes, closes[len(closes)-1]+1)
		} else {
			closes = append(closes, closes[len(closes)-1]-1)
		}
	}
	got, ok := RSI(closes, 14)
	if !ok || math.Abs(got-50) > 5 {
		t.Fatalf("RSI = %v; want about 50", got)
	}
}

func TestRSITooShort(t *testing.T) {
	if _, ok := RSI([]float64{1, 2, 3}, 14); ok {
		t.Fatal("RSI should need more than period closes")
	}
	series := RSISeries([]float64{1, 2, 3, 4}, 2)
	if !math.IsNaN(series[0]) || !math.IsNaN(series[1]) || math.IsNaN(series[2]) {
		t.Fatalf("unexpected warmup: %v", series)
	}
}

func TestExtremesAndTail(t *testing.T) {
	low, high, ok := Extremes([]float64{3, 9, -1, 4})
	if !ok || low != -1 || high != 9 {
		t.Fatalf("Extremes = %v, %v, %v", low, high, ok)
	}
	if _, _, ok := Extremes(nil); ok {
		t.Fatal("Extremes of nothing should fail")
	}
	if got := Tail([]float64{1, 2, 3}, 2); len(got) != 2 || got[0] != 2 {
		t.Fatalf("Tail = %v", got)
	}
	if got := Mean(nil); got != 0 {
		t.Fatalf("Mean(nil) = %v", got)
	}
}
