// Package tx defines the transactions the engine submits and their
// validation.
package tx

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"github.com/Klingon-tech/klingnet-tray/pkg/crypto"
	"github.com/Klingon-tech/klingnet-tray/pkg/instruction"
)

// Purpose tags what a transaction is for.
type Purpose uint8

const (
	PurposeCreate Purpose = iota + 1
	PurposeMigrate
	PurposeReceive
	PurposeSwap
)

func (p Purpose) String() string {
	switch p {
	case PurposeCreate:
		return "create"
	case PurposeMigrate:
		return "migrate"
	case PurposeReceive:
		return "receive"
	case PurposeSwap:
		return "swap"
	default:
		return "unknown"
	}
}

// Transaction is an unsigned set of instructions plus the keys that must
// sign it. The submitter turns it into a wire transaction.
type Transaction struct {
	Purpose      Purpose
	FeePayer     solana.PrivateKey
	Signers      []solana.PrivateKey
	Instructions []instruction.Instruction
}

// Hash identifies the transaction's intent. It covers purpose, fee payer
// and every encoded instruction, but no signatures or blockhash, so a
// resubmission of the same intent hashes the same.
func (tx *Transaction) Hash() crypto.Digest {
	parts := [][]byte{{byte(tx.Purpose)}}
	if tx.FeePayer != nil {
		parts = append(parts, tx.FeePayer.PublicKey().Bytes())
	}
	for _, ix := range tx.Instructions {
		built := ix.Build()
		parts = append(parts, built.ProgID.Bytes())
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(built.AccountValues)))
		parts = append(parts, n[:])
		for _, m := range built.AccountValues {
			parts = append(parts, m.PublicKey.Bytes())
		}
		parts = append(parts, built.DataBytes)
	}
	return crypto.HashParts(parts...)
}

// Built returns the wire form of every instruction.
func (tx *Transaction) Built() []solana.Instruction {
	out := make([]solana.Instruction, len(tx.Instructions))
	for i, ix := range tx.Instructions {
		out[i] = ix.Build()
	}
	return out
}

// KeyFor returns the signing key for pk, or nil.
func (tx *Transaction) KeyFor(pk solana.PublicKey) *solana.PrivateKey {
	if tx.FeePayer != nil && tx.FeePayer.PublicKey().Equals(pk) {
		key := tx.FeePayer
		return &key
	}
	for _, s := range tx.Signers {
		if s.PublicKey().Equals(pk) {
			key := s
			return &key
		}
	}
	return nil
}

// SignerKeys returns the distinct public keys of fee payer and signers,
// fee payer first.
func (tx *Transaction) SignerKeys() []solana.PublicKey {
	var out []solana.PublicKey
	seen := make(map[solana.PublicKey]bool)
	add := func(k solana.PrivateKey) {
		pk := k.PublicKey()
		if !seen[pk] {
			seen[pk] = true
			out = append(out, pk)
		}
	}
	if tx.FeePayer != nil {
		add(tx.FeePayer)
	}
	for _, s := range tx.Signers {
		add(s)
	}
	return out
}
