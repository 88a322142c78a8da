package chanlun

import (
	"math"
	"time"

	"chanlun-engine/internal/models"
)

var day0 = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

// barsFromCenters builds one bar per center with a fixed +-1 range, so
// consecutive distinct centers never form an inclusion pair.
func barsFromCenters(centers ...float64) []models.Bar {
	bars := make([]models.Bar, len(centers))
	for i, c := range centers {
		bars[i] = models.Bar{
			Date:   day0.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
		}
	}
	return bars
}

func barsFromRanges(ranges ...[2]float64) []models.Bar {
	bars := make([]models.Bar, len(ranges))
	for i, r := range ranges {
		mid := (r[0] + r[1]) / 2
		bars[i] = models.Bar{
			Date:   day0.AddDate(0, 0, i),
			Open:   mid,
			High:   r[0],
			Low:    r[1],
			Close:  mid,
			Volume: 1000,
		}
	}
	return bars
}

// zigzag oscillates 10..14..10 with an eight-bar cycle.
func zigzag(n int) []float64 {
	cycle := []float64{10, 11, 12, 13, 14, 13, 12, 11}
	out := make([]float64, n)
	for i := range out {
		out[i] = cycle[i%len(cycle)]
	}
	return out
}

// vShape declines for ten bars to the trough at index 9, rises for ten
// bars and pulls back once so the final top is confirmed.
func vShape() []float64 {
	var c []float64
	for i := 0; i < 10; i++ {
		c = append(c, 20-float64(i))
	}
	for i := 0; i < 10; i++ {
		c = append(c, 12+float64(i))
	}
	return append(c, 20)
}

func decline(n int) []float64 {
	c := make([]float64, n)
	for i := range c {
		c[i] = 30 - float64(i)
	}
	return c
}

// randomWalk turns steps into bars of varying width, so inclusion pairs occur.
func randomWalk(steps []float64) []models.Bar {
	bars := make([]models.Bar, len(steps))
	c := 400.0
	for i, s := range steps {
		c += s
		w := 0.5 + math.Mod(math.Abs(s)*7, 1.5)
		bars[i] = models.Bar{
			Date:   day0.AddDate(0, 0, i),
			Open:   c,
			High:   c + w,
			Low:    c - w,
			Close:  c + s/4,
			Volume: 1000,
		}
	}
	return bars
}

func stroke(dir Direction, high, low, power float64) Stroke {
	return Stroke{Direction: dir, High: high, Low: low, Power: power}
}
