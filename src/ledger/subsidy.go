package ledger

// Coin is the number of base units in one coin.
const Coin uint64 = 100000000

// SubsidyFunc returns the reward a miner transaction may create at a given
// block height, on top of collected fees.
type SubsidyFunc func(height uint32) uint64

// HalvingSubsidy starts at base and halves every interval blocks until it
// reaches zero.
func HalvingSubsidy(base uint64, interval uint32) SubsidyFunc {
	return func(height uint32) uint64 {
		if interval == 0 {
			return base
		}
		halvings := height / interval
		if halvings >= 64 {
			return 0
		}
		return base >> halvings
	}
}

// NoSubsidy is used by networks where miner transactions only collect fees.
func NoSubsidy(height uint32) uint64 {
	return 0
}

// DefaultSubsidy ...
var DefaultSubsidy = HalvingSubsidy(50*Coin, 2000000)
