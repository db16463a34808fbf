package tx

// LamportsPerSignature is the base fee charged per transaction signature.
const LamportsPerSignature = 5000

// EstimateFee returns the fee in lamports: the base fee for each distinct
// signer plus the priority fee of units compute units at microLamports
// each (rounded up).
func EstimateFee(transaction *Transaction, units uint32, microLamports uint64) uint64 {
	base := uint64(len(transaction.SignerKeys())) * LamportsPerSignature
	priority := (uint64(units)*microLamports + 999_999) / 1_000_000
	return base + priority
}
