package distribution

// Classify maps an amount in whole units to its histogram tier.
//
// The tier is floor(log10(w*10)) clamped into [0, TierCount-1], computed as the number
// of decimal digits of w so it stays exact for every uint64. Zero maps to tier 0:
//
//	0 -> 0, 1..9 -> 1, 10..99 -> 2, ..., 1e9..9.99e9 -> 10, >= 1e10 -> 10
func Classify(wholeUnits uint64) int {
	tier := 0
	for wholeUnits > 0 && tier < TierCount-1 {
		wholeUnits /= 10
		tier++
	}
	return tier
}
