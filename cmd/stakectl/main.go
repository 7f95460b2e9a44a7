package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/wnt/stakepool/internal/amount"
	"github.com/wnt/stakepool/internal/app"
	"github.com/wnt/stakepool/internal/config"
	"github.com/wnt/stakepool/internal/logger"
	"github.com/wnt/stakepool/internal/staking"
)

const usage = `Usage: stakectl [-envFile .env] <command> [flags]

Queued operations (add -wait to block until a worker applies them):
  init         -authority -staking-mint -staking-vault -reward-mint -reward-vault -duration [-address]
  create-user  -pool -owner
  stake        -pool -owner -account -amount
  unstake      -pool -owner -account -amount
  fund         -pool -authority -account -amount
  claim        -pool -owner -account

Queries:
  result   -id
  pool     -pool
  user     -pool -owner
  pending  -pool -owner
  audit    -pool
  journal  -pool [-limit]
`

func main() {
	envFile := flag.String("envFile", ".env", "Path to .env file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("No .env file found at %s, using environment variables", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Keep the console quiet unless asked otherwise
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = "warn"
	}

	// Logs go to stderr so command output stays parseable
	a, err := app.New(cfg, logger.New(cfg.LogLevel).Output(os.Stderr))
	if err != nil {
		log.Fatalf("Failed to initialize stakepool: %v", err)
	}

	err = run(context.Background(), a, flag.Arg(0), flag.Args()[1:])
	a.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stakectl %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)

	var (
		poolAddr, owner, account, authority keyFlag
		stakingMint, stakingVault           keyFlag
		rewardMint, rewardVault, address    keyFlag
	)
	amountStr := fs.String("amount", "", "Amount in UI units, e.g. 12.5")
	duration := fs.Uint64("duration", 0, "Reward duration in seconds")
	id := fs.String("id", "", "Operation id")
	limit := fs.Int("limit", 100, "Maximum journal entries")
	wait := fs.Bool("wait", false, "Wait for the operation result")
	timeout := fs.Duration("timeout", time.Minute, "How long -wait waits")

	fs.Var(&poolAddr, "pool", "Pool address")
	fs.Var(&owner, "owner", "Position owner")
	fs.Var(&account, "account", "Token account paying or receiving tokens")
	fs.Var(&authority, "authority", "Pool authority")
	fs.Var(&stakingMint, "staking-mint", "Staking token mint")
	fs.Var(&stakingVault, "staking-vault", "Staking vault token account")
	fs.Var(&rewardMint, "reward-mint", "Reward token mint")
	fs.Var(&rewardVault, "reward-vault", "Reward vault token account")
	fs.Var(&address, "address", "Pool address to use instead of a generated one")

	if err := fs.Parse(args); err != nil {
		return err
	}

	decimals := a.Config.TokenDecimals
	parseAmount := func() (uint64, error) {
		if *amountStr == "" {
			return 0, errors.New("-amount is required")
		}
		return amount.Parse(*amountStr, decimals)
	}

	op := &staking.Operation{
		ID:      uuid.NewString(),
		Kind:    staking.OperationKind(command),
		Pool:    poolAddr.key,
		Actor:   owner.key,
		Account: account.key,
	}

	switch command {
	case "init":
		op.Kind = staking.KindInitializePool
		op.Init = &staking.InitializePoolParams{
			Address:        address.key,
			Authority:      authority.key,
			StakingMint:    stakingMint.key,
			StakingVault:   stakingVault.key,
			RewardMint:     rewardMint.key,
			RewardVault:    rewardVault.key,
			RewardDuration: *duration,
		}
	case "create-user":
		op.Kind = staking.KindCreateUser
	case "stake", "unstake":
		amt, err := parseAmount()
		if err != nil {
			return err
		}
		op.Amount = amt
	case "fund":
		amt, err := parseAmount()
		if err != nil {
			return err
		}
		op.Actor, op.Amount = authority.key, amt
	case "claim":
		// pays out everything pending, no amount

	case "result":
		result, err := a.Queue.GetResult(ctx, *id)
		if err != nil {
			return err
		}
		if result == nil {
			return fmt.Errorf("no result for operation %q yet", *id)
		}
		return printJSON(result)

	case "pool":
		pool, err := a.Service.GetPool(ctx, poolAddr.key)
		if err != nil {
			return err
		}
		printPool(pool, decimals)
		return nil

	case "user":
		user, err := a.Service.GetUser(ctx, poolAddr.key, owner.key)
		if err != nil {
			return err
		}
		fmt.Printf("Position:        %s\n", user.Address)
		fmt.Printf("Owner:           %s\n", user.Owner)
		fmt.Printf("Staked:          %s\n", amount.Format(user.Position.BalanceStaked, decimals))
		fmt.Printf("Pending reward:  %s (as of last operation)\n", amount.Format(user.Position.RewardPerTokenPending, decimals))
		return nil

	case "pending":
		pending, err := a.Service.PendingReward(ctx, poolAddr.key, owner.key)
		if err != nil {
			return err
		}
		fmt.Println(amount.Format(pending, decimals))
		return nil

	case "audit":
		report, err := a.Service.Audit(ctx, poolAddr.key)
		if err != nil {
			return err
		}
		if err := printJSON(report); err != nil {
			return err
		}
		if !report.Balanced() || !report.Solvent() {
			return fmt.Errorf("pool %s failed audit (balanced=%t solvent=%t)", report.Pool, report.Balanced(), report.Solvent())
		}
		return nil

	case "journal":
		if a.Journal == nil {
			return errors.New("the journal is only kept by the postgres store")
		}
		ops, err := a.Journal.ListOperations(ctx, poolAddr.key, *limit)
		if err != nil {
			return err
		}
		for _, op := range ops {
			fmt.Printf("%s  %-16s %-44s amount=%s paid=%s id=%s\n",
				time.Unix(op.AppliedAt, 0).UTC().Format(time.RFC3339), op.Kind, op.Actor, op.Amount, op.Paid, op.OperationID)
		}
		return nil

	default:
		fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
		fs.Usage()
		return fmt.Errorf("unknown command %q", command)
	}

	if err := a.Queue.Push(ctx, op); err != nil {
		return err
	}
	fmt.Printf("Queued %s operation %s\n", op.Kind, op.ID)

	if !*wait {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	result, err := a.Queue.WaitResult(waitCtx, op.ID, 500*time.Millisecond)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", op.ID, err)
	}
	return printJSON(result)
}

func printPool(pool *staking.Pool, decimals int32) {
	now := time.Now().Unix()
	r := pool.Rewards

	fmt.Printf("Pool:             %s\n", pool.Address)
	fmt.Printf("Authority:        %s\n", pool.Authority)
	fmt.Printf("Signer:           %s (nonce %d)\n", pool.Signer, pool.SignerNonce)
	fmt.Printf("Staking vault:    %s (mint %s)\n", pool.StakingVault, pool.StakingMint)
	fmt.Printf("Reward vault:     %s (mint %s)\n", pool.RewardVault, pool.RewardMint)
	fmt.Printf("Users:            %d\n", pool.UserStakeCount)
	fmt.Printf("State:            %s\n", r.State(now))
	fmt.Printf("Reward rate:      %s per year\n", amount.Format(r.RewardRate, decimals))
	fmt.Printf("Reward duration:  %ds, ends %s\n", r.RewardDuration, time.Unix(r.RewardDurationEnd, 0).UTC().Format(time.RFC3339))
	fmt.Printf("Last update:      %s\n", time.Unix(r.LastUpdateTime, 0).UTC().Format(time.RFC3339))
	fmt.Printf("Reward per token: %s\n", r.RewardPerTokenStored.Dec())
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// keyFlag parses a base58 public key flag.
type keyFlag struct {
	key solana.PublicKey
}

func (k *keyFlag) String() string {
	if k.key.IsZero() {
		return ""
	}
	return k.key.String()
}

func (k *keyFlag) Set(s string) error {
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return fmt.Errorf("invalid public key %q: %w", s, err)
	}
	k.key = key
	return nil
}
