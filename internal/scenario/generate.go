package scenario

import (
	"fmt"
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/econsim/internal/config"
	"github.com/talgya/econsim/internal/economy"
)

// Generate builds a procedural roster of n trading agents plus the market
// operator. Roles rotate producer, consumer, worker, trader; endowments
// follow smooth noise over the roster index so neighboring agents have
// correlated wealth. The same seed always yields the same economy.
func Generate(pol config.Policy, n int, seed int64) *economy.Ledger {
	if n <= 0 {
		return Bootstrap(pol)
	}
	l := economy.NewLedger()
	l.Defaults = pol.Agent
	food := pol.ReservedGood

	wealthNoise := opensimplex.NewNormalized(seed)
	stockNoise := opensimplex.NewNormalized(seed + 1)

	roles := [...]string{"producer", "consumer", "worker", "trader"}
	counts := make(map[string]int, len(roles))
	for i := 0; i < n; i++ {
		role := roles[i%len(roles)]
		counts[role]++
		id := fmt.Sprintf("%s-%02d", role, counts[role])

		x := float64(i)
		a := l.AddAgent(id)
		w := octaveNoise(wealthNoise, x, 0.25, 2, 0.35, 0.5)
		a.Currency = round2(pol.Agent.Currency * (0.5 + w))

		units := 1 + int(octaveNoise(stockNoise, x, 0.75, 2, 0.35, 0.5)*5)
		if role == "producer" {
			// Producers start stocked; they anchor the supply side.
			units += 4
		}
		a.Inventory[food] = units
	}

	market := l.AddAgent(pol.Market.Operator)
	market.Currency = 5
	market.Inventory[food] = 2 + n/4
	return l
}

// octaveNoise layers noise octaves for richer variation, normalized back
// to [0, 1].
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxValue := 0.0
	freq := frequency

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*freq, y*freq) * amplitude
		maxValue += amplitude
		amplitude *= persistence
		freq *= 2
	}
	return total / maxValue
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
