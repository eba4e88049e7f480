package loyalty

import "github.com/shopspring/decimal"

// Tier is a loyalty rank derived from lifetime points.
type Tier uint8

const (
	TierBronze Tier = iota
	TierSilver
	TierGold
	TierPlatinum
)

type tierInfo struct {
	name       string
	display    string
	required   int64
	multiplier decimal.Decimal
}

// Ordered by threshold.
var tierTable = [...]tierInfo{
	TierBronze:   {name: "BRONZE", display: "Bronze", required: 0, multiplier: decimal.NewFromInt(1)},
	TierSilver:   {name: "SILVER", display: "Silver", required: 1000, multiplier: decimal.RequireFromString("1.25")},
	TierGold:     {name: "GOLD", display: "Gold", required: 5000, multiplier: decimal.RequireFromString("1.5")},
	TierPlatinum: {name: "PLATINUM", display: "Platinum", required: 10000, multiplier: decimal.NewFromInt(2)},
}

// TierFor returns the highest tier whose threshold lifetime meets.
func TierFor(lifetime int64) Tier {
	t := TierBronze
	for i := range tierTable {
		if lifetime >= tierTable[i].required {
			t = Tier(i)
		}
	}
	return t
}

func (t Tier) info() tierInfo {
	if int(t) >= len(tierTable) {
		return tierTable[TierBronze]
	}
	return tierTable[t]
}

func (t Tier) String() string { return t.info().name }

// DisplayName returns the human-readable tier name.
func (t Tier) DisplayName() string { return t.info().display }

// Multiplier is applied to base points when earning.
func (t Tier) Multiplier() decimal.Decimal { return t.info().multiplier }

// RequiredPoints is the lifetime points threshold of the tier.
func (t Tier) RequiredPoints() int64 { return t.info().required }

// Next returns the tier above t, or false for the top tier.
func (t Tier) Next() (Tier, bool) {
	if int(t)+1 >= len(tierTable) {
		return t, false
	}
	return t + 1, true
}
