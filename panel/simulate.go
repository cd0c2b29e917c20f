package panel

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/floats"
)

// GenerateTimes returns n consecutive period starts beginning at start
func GenerateTimes(freq Frequency, start time.Time, n int) []time.Time {
	t := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		t = append(t, freq.Add(start, i))
	}
	return t
}

type Series []float64

func (s Series) Add(src Series) Series {
	floats.Add(s, src)
	return s
}

// Clip raises every value below lower to lower
func (s Series) Clip(lower float64) Series {
	for i := range s {
		if s[i] < lower {
			s[i] = lower
		}
	}
	return s
}

// Round rounds every value to the nearest integer
func (s Series) Round() Series {
	for i := range s {
		s[i] = math.Round(s[i])
	}
	return s
}

func GenerateConstY(n int, val float64) Series {
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		y = append(y, val)
	}
	return Series(y)
}

// GenerateTrendY generates a line starting at 0 increasing by slope every period
func GenerateTrendY(n int, slope float64) Series {
	y := make([]float64, n)
	for i := range y {
		y[i] = slope * float64(i)
	}
	return Series(y)
}

// GenerateWaveY generates a sine wave with a period expressed in number of samples
func GenerateWaveY(n int, amp, period, phase float64) Series {
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		y = append(y, amp*math.Sin(2.0*math.Pi/period*(float64(i)+phase)))
	}
	return Series(y)
}

// GenerateNoise generates gaussian noise from a seeded source so tests are repeatable
func GenerateNoise(n int, scale float64, seed uint64) Series {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		y = append(y, rng.NormFloat64()*scale)
	}
	return Series(y)
}

// GenerateIntermittent zeroes out every sample whose index is not a multiple of every
func GenerateIntermittent(y Series, every int) Series {
	for i := range y {
		if every > 0 && i%every != 0 {
			y[i] = 0
		}
	}
	return y
}
