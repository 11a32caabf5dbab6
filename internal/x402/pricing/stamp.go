package pricing

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// Gnosis has ~5 second blocks, so 720 blocks per hour.
	blocksPerHour = 720

	// Swarm chunks are 4096 bytes; a stamp of depth d covers 2^d chunks.
	chunkSize = 4096

	minStampDepth = 17
	maxStampDepth = 32
)

// StampAmount is the per-chunk amount in PLUR needed to keep a stamp alive
// for durationHours at the chain's current price per chunk per block.
func StampAmount(durationHours int, currentPrice int64) int64 {
	return currentPrice * int64(durationHours) * blocksPerHour
}

// StampTotalPLUR is the total PLUR cost of a stamp: amount * 2^depth.
func StampTotalPLUR(amount int64, depth int) decimal.Decimal {
	total := new(big.Int).Lsh(big.NewInt(amount), uint(depth))
	return decimal.NewFromBigInt(total, 0)
}

// StampCostBZZ is the full cost in BZZ of a stamp purchase.
func StampCostBZZ(durationHours int, currentPrice int64, depth int) decimal.Decimal {
	return PLURToBZZ(StampTotalPLUR(StampAmount(durationHours, currentPrice), depth))
}

// DepthForSize picks the smallest stamp depth whose capacity covers
// sizeBytes with 10% headroom.
func DepthForSize(sizeBytes int64) int {
	chunksNeeded := (sizeBytes + chunkSize - 1) / chunkSize

	for depth := minStampDepth; depth < maxStampDepth; depth++ {
		capacity := int64(1) << uint(depth)
		if float64(capacity) >= float64(chunksNeeded)*1.1 {
			return depth
		}
	}
	return maxStampDepth
}
