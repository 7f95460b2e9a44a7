package ledger

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/rs/zerolog"

	"github.com/wnt/stakepool/internal/rpc"
	"github.com/wnt/stakepool/internal/staking"
)

// Solana moves SPL tokens on chain. The custody key signs every transfer, either as
// the owner of the pool vaults or as an approved delegate of a participant's account.
type Solana struct {
	client   *rpc.Client
	custody  solana.PrivateKey
	decimals uint8
	logger   zerolog.Logger
}

// NewSolana creates a ledger that pays fees from and signs with custody.
func NewSolana(client *rpc.Client, custody solana.PrivateKey, decimals uint8, logger zerolog.Logger) *Solana {
	return &Solana{
		client:   client,
		custody:  custody,
		decimals: decimals,
		logger:   logger.With().Str("component", "solana_ledger").Logger(),
	}
}

// Balance returns the raw balance of an SPL token account.
func (l *Solana) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	return l.client.TokenBalance(ctx, account)
}

// Transfer submits a checked SPL transfer and returns once it reached the commitment
// balances are read at. A transfer that executed with an error is reported as failed.
func (l *Solana) Transfer(ctx context.Context, t staking.Transfer) error {
	hash, err := l.client.LatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("failed to get blockhash: %w", err)
	}

	tx, err := l.BuildTransfer(t, hash)
	if err != nil {
		return err
	}

	sig, err := l.client.SendTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("failed to send transfer: %w", err)
	}

	log := l.logger.With().Str("signature", sig.String()).Logger()
	log.Debug().Msg("Submitted token transfer")

	if err := l.client.ConfirmTransaction(ctx, sig); err != nil {
		log.Error().Err(err).Msg("Token transfer not confirmed")
		return fmt.Errorf("failed to confirm transfer: %w", err)
	}

	log.Info().
		Str("mint", t.Mint.String()).
		Str("from", t.From.String()).
		Str("to", t.To.String()).
		Uint64("amount", t.Amount).
		Msg("Token transfer confirmed")
	return nil
}

// BuildTransfer returns the signed transaction for t.
func (l *Solana) BuildTransfer(t staking.Transfer, recentBlockhash solana.Hash) (*solana.Transaction, error) {
	authority := l.custody.PublicKey()

	ix, err := token.NewTransferCheckedInstruction(
		t.Amount,
		l.decimals,
		t.From,
		t.Mint,
		t.To,
		authority,
		nil,
	).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("invalid transfer instruction: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		recentBlockhash,
		solana.TransactionPayer(authority),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(authority) {
			return &l.custody
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}
