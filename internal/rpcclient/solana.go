package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/Klingon-tech/klingnet-tray/internal/log"
	"github.com/Klingon-tech/klingnet-tray/internal/organizer"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
	"github.com/Klingon-tech/klingnet-tray/pkg/tx"
)

// MaxAccountsPerRequest is the getMultipleAccounts limit.
const MaxAccountsPerRequest = 100

// Confirmation polling defaults.
const (
	DefaultConfirmInterval = 500 * time.Millisecond
	DefaultConfirmAttempts = 60
)

// Chain errors.
var (
	ErrTransactionFailed = errors.New("transaction failed on-chain")
	ErrNotConfirmed      = errors.New("transaction not confirmed")
	ErrWrongMint         = errors.New("token account holds a different mint")
	ErrMalformedAccount  = errors.New("malformed token account")
)

// ParseCommitment maps a config value to a commitment level.
func ParseCommitment(s string) (rpc.CommitmentType, error) {
	switch c := rpc.CommitmentType(strings.ToLower(strings.TrimSpace(s))); c {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
		return c, nil
	default:
		return "", fmt.Errorf("unknown commitment %q", s)
	}
}

// Chain reads vault state and submits transactions over Solana JSON-RPC.
type Chain struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	mint       solana.PublicKey

	confirmInterval time.Duration
	confirmAttempts uint64
}

// NewChain creates a chain client. A zero mint disables the mint check on
// fetched vaults.
func NewChain(endpoint string, commitment rpc.CommitmentType, mint solana.PublicKey) *Chain {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &Chain{
		rpc:             rpc.New(endpoint),
		commitment:      commitment,
		mint:            mint,
		confirmInterval: DefaultConfirmInterval,
		confirmAttempts: DefaultConfirmAttempts,
	}
}

// SetConfirmPolling changes how often and how many times Submit polls for
// confirmation.
func (c *Chain) SetConfirmPolling(interval time.Duration, attempts uint64) {
	c.confirmInterval = interval
	c.confirmAttempts = attempts
}

// FetchAccountState returns one entry per address, in request order.
func (c *Chain) FetchAccountState(ctx context.Context, addrs []solana.PublicKey) ([]organizer.AccountInfo, error) {
	infos := make([]organizer.AccountInfo, 0, len(addrs))
	for start := 0; start < len(addrs); start += MaxAccountsPerRequest {
		end := min(start+MaxAccountsPerRequest, len(addrs))
		batch := addrs[start:end]

		out, err := c.rpc.GetMultipleAccountsWithOpts(ctx, batch, &rpc.GetMultipleAccountsOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
		if err != nil {
			return nil, fmt.Errorf("get multiple accounts: %w", err)
		}
		if len(out.Value) != len(batch) {
			return nil, fmt.Errorf("get multiple accounts: %d results for %d addresses", len(out.Value), len(batch))
		}

		for i, acct := range out.Value {
			info := organizer.AccountInfo{Address: batch[i]}
			if acct != nil && acct.Data != nil {
				bal, err := c.decodeBalance(acct.Data.GetBinary())
				if err != nil {
					return nil, fmt.Errorf("account %s: %w", batch[i], err)
				}
				info.Exists = true
				info.Balance = bal
			}
			infos = append(infos, info)
		}
	}
	log.RPC.Debug().Int("accounts", len(addrs)).Msg("Fetched account state")
	return infos, nil
}

func (c *Chain) decodeBalance(data []byte) (kin.Quarks, error) {
	var acc token.Account
	if err := bin.NewBinDecoder(data).Decode(&acc); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedAccount, err)
	}
	if !c.mint.IsZero() && !acc.Mint.Equals(c.mint) {
		return 0, fmt.Errorf("%w: %s", ErrWrongMint, acc.Mint)
	}
	return kin.Quarks(acc.Amount), nil
}

// Submit signs transaction against a fresh blockhash, sends it and waits
// until it reaches the configured commitment.
func (c *Chain) Submit(ctx context.Context, transaction *tx.Transaction) (solana.Signature, error) {
	if err := transaction.Validate(); err != nil {
		return solana.Signature{}, err
	}

	recent, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	wire, err := solana.NewTransaction(
		transaction.Built(),
		recent.Value.Blockhash,
		solana.TransactionPayer(transaction.FeePayer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}
	if _, err := wire.Sign(transaction.KeyFor); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, wire, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}

	logger := log.RPC.With().
		Str("purpose", transaction.Purpose.String()).
		Str("signature", sig.String()).
		Logger()
	logger.Debug().Msg("Transaction sent")

	if err := c.waitForConfirmation(ctx, sig); err != nil {
		return sig, err
	}
	logger.Info().Msg("Transaction confirmed")
	return sig, nil
}

func (c *Chain) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	op := func() error {
		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		if len(out.Value) == 0 || out.Value[0] == nil {
			return ErrNotConfirmed
		}
		status := out.Value[0]
		if status.Err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrTransactionFailed, status.Err))
		}
		if c.reached(status.ConfirmationStatus) {
			return nil
		}
		return ErrNotConfirmed
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.confirmInterval), c.confirmAttempts),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("confirm %s: %w", sig, err)
	}
	return nil
}

func (c *Chain) reached(status rpc.ConfirmationStatusType) bool {
	switch status {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return c.commitment != rpc.CommitmentFinalized
	case rpc.ConfirmationStatusProcessed:
		return c.commitment == rpc.CommitmentProcessed
	default:
		return false
	}
}
