// Package app assembles the stakepool components selected by the configuration.
package app

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/wnt/stakepool/internal/config"
	"github.com/wnt/stakepool/internal/database"
	"github.com/wnt/stakepool/internal/ledger"
	"github.com/wnt/stakepool/internal/lock"
	"github.com/wnt/stakepool/internal/memstore"
	"github.com/wnt/stakepool/internal/queue"
	"github.com/wnt/stakepool/internal/rpc"
	"github.com/wnt/stakepool/internal/staking"
)

const (
	// LockTTL bounds how long a crashed process can hold a pool lock. Live holders renew it.
	LockTTL = 30 * time.Second
	// OperationTimeout bounds one operation once its pool lock is held, confirmation wait included.
	OperationTimeout = 2 * time.Minute
)

// App holds the wired components of a stakepool process.
type App struct {
	Config  config.Config
	Service *staking.Service
	Queue   *queue.Client
	// Journal is nil unless the postgres store is in use.
	Journal *database.Store
	RPCPool *rpc.Pool

	db     *gorm.DB
	logger zerolog.Logger
}

// New connects the store, queue and ledger described by cfg.
func New(cfg config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	var store staking.Store
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn().Msg("Using in-memory store, state is lost on exit")
		store = memstore.New()
	default:
		db, err := database.Connect(cfg)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.Journal = database.NewStore(db)
		store = a.Journal
	}

	q, err := queue.NewClient(cfg.RedisURL, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Queue = q

	var tokens staking.Ledger
	switch cfg.Ledger {
	case config.LedgerMemory:
		logger.Warn().Msg("Using in-memory ledger, no tokens move on chain")
		tokens = ledger.NewMemory()
	default:
		tokens, err = a.solanaLedger()
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Service = staking.NewService(store, tokens, logger,
		staking.WithLocker(lock.NewRedis(q.Redis(), LockTTL, logger)),
		staking.WithOperationTimeout(OperationTimeout),
		staking.WithProgramID(cfg.ProgramID),
		staking.WithDecimals(cfg.TokenDecimals),
	)
	return a, nil
}

func (a *App) solanaLedger() (*ledger.Solana, error) {
	custody, err := solana.PrivateKeyFromSolanaKeygenFile(a.Config.CustodyKeypair)
	if err != nil {
		return nil, fmt.Errorf("failed to load custody keypair: %w", err)
	}

	pool, err := rpc.NewPool(a.Config.RPCEndpoints, a.Config.RPCRateLimit, a.logger)
	if err != nil {
		return nil, err
	}
	a.RPCPool = pool

	a.logger.Info().
		Str("custody", custody.PublicKey().String()).
		Int("endpoints", len(a.Config.RPCEndpoints)).
		Msg("Using Solana ledger")

	return ledger.NewSolana(rpc.NewClient(pool, a.logger), custody, uint8(a.Config.TokenDecimals), a.logger), nil
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close Redis connection")
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
