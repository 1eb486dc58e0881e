package algomart

import (
	"math"

	"github.com/google/uuid"
)

const microAlgosPerAlgo = 1_000_000

// AlgosToMicroAlgos converts a whole-Algo amount to the ledger's base unit,
// rounding to the nearest microAlgo.
func AlgosToMicroAlgos(algos float64) uint64 {
	return uint64(math.Round(algos * microAlgosPerAlgo))
}

// MicroAlgosToAlgos converts a base-unit amount to whole Algos.
func MicroAlgosToAlgos(microAlgos uint64) float64 {
	return float64(microAlgos) / microAlgosPerAlgo
}

// PurchaseNote builds the on-chain note tying a payment to its listing.
func PurchaseNote(listingID uuid.UUID) []byte {
	return []byte("AlgoMart Purchase: " + listingID.String())
}

// FormatAddress shortens an Algorand address for display.
func FormatAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}
