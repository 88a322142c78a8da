package chanlun

import "math"

// LocatePivots scans strokes for overlap ranges. A pivot opens when three
// consecutive strokes overlap (zg > zd) and greedily absorbs following
// strokes while the tightened band stays positive-width. The scan resumes
// after the absorbed range, or one stroke later when no pivot opened.
func LocatePivots(strokes []Stroke) []Pivot {
	var pivots []Pivot

	i := 0
	for i+2 < len(strokes) {
		zg := math.Min(strokes[i].High, math.Min(strokes[i+1].High, strokes[i+2].High))
		zd := math.Max(strokes[i].Low, math.Max(strokes[i+1].Low, strokes[i+2].Low))
		if zg <= zd {
			i++
			continue
		}

		gg := math.Max(strokes[i].High, math.Max(strokes[i+1].High, strokes[i+2].High))
		dd := math.Min(strokes[i].Low, math.Min(strokes[i+1].Low, strokes[i+2].Low))

		j := i + 3
		for ; j < len(strokes); j++ {
			nzg := math.Min(zg, strokes[j].High)
			nzd := math.Max(zd, strokes[j].Low)
			if nzg <= nzd {
				break
			}
			zg, zd = nzg, nzd
			gg = math.Max(gg, strokes[j].High)
			dd = math.Min(dd, strokes[j].Low)
		}

		pivots = append(pivots, Pivot{
			First:     i,
			Last:      j - 1,
			Strokes:   append([]Stroke(nil), strokes[i:j]...),
			ZG:        zg,
			ZD:        zd,
			GG:        gg,
			DD:        dd,
			Direction: strokes[i].Direction,
		})
		i = j
	}
	return pivots
}

// Position places price relative to p.
func Position(price float64, p Pivot) PricePosition {
	switch {
	case price > p.ZG:
		return PricePosition{Zone: ZoneAbove, Percent: (price - p.ZG) / p.ZG * 100}
	case price < p.ZD:
		return PricePosition{Zone: ZoneBelow, Percent: (p.ZD - price) / p.ZD * 100}
	default:
		return PricePosition{Zone: ZoneInside, Percent: (price - p.ZD) / p.Range() * 100}
	}
}
