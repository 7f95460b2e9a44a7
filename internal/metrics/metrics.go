package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal tracks pool operations by kind and outcome
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakepool_operations_total",
			Help: "The total number of pool operations",
		},
		[]string{"operation", "status"}, // success, duplicate, rejected, failed
	)

	// OperationDuration tracks how long operations take end to end
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stakepool_operation_duration_seconds",
			Help:    "Time taken to apply a pool operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// RewardsClaimed tracks reward base units paid out
	RewardsClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakepool_rewards_claimed_total",
			Help: "Reward base units paid to participants",
		},
		[]string{"pool"},
	)

	// ClaimShortfall tracks pending rewards discarded because the reward vault could not cover them
	ClaimShortfall = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakepool_claim_shortfall_total",
			Help: "Pending reward base units zeroed without payout due to an underfunded reward vault",
		},
		[]string{"pool"},
	)

	// RewardsFunded tracks reward base units deposited by pool authorities
	RewardsFunded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakepool_rewards_funded_total",
			Help: "Reward base units deposited into reward vaults",
		},
		[]string{"pool"},
	)

	// RewardRate tracks the current annual emission rate per pool
	RewardRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stakepool_reward_rate",
			Help: "Reward base units emitted per year under the current schedule",
		},
		[]string{"pool"},
	)

	// TotalStaked tracks the staking vault balance per pool
	TotalStaked = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stakepool_total_staked",
			Help: "Staking vault balance in base units",
		},
		[]string{"pool"},
	)

	// QueueLength tracks the number of operations waiting in the queue
	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stakepool_queue_length",
		Help: "The number of operations currently in the queue",
	})

	// WorkersActive tracks the number of active workers
	WorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stakepool_workers_active",
		Help: "The number of workers currently active",
	})

	// RPCRequestsTotal tracks RPC requests by status
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakepool_rpc_requests_total",
			Help: "The total number of RPC requests",
		},
		[]string{"method", "status"},
	)

	// RPCEndpointHealth tracks RPC endpoint health
	RPCEndpointHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stakepool_rpc_endpoint_health",
			Help: "Health status of RPC endpoints (1 = healthy, 0 = unhealthy)",
		},
		[]string{"endpoint"},
	)

	// LockWaitSeconds tracks time spent waiting for a pool lock
	LockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stakepool_lock_wait_seconds",
		Help:    "Time spent acquiring a pool lock",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})
)

// RecordOperation records an applied operation with its outcome and duration
func RecordOperation(operation, status string, duration float64) {
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordClaim records a reward payout and any discarded shortfall
func RecordClaim(pool string, paid, shortfall uint64) {
	RewardsClaimed.WithLabelValues(pool).Add(float64(paid))
	if shortfall > 0 {
		ClaimShortfall.WithLabelValues(pool).Add(float64(shortfall))
	}
}

// RecordFunding records a reward deposit and the resulting rate
func RecordFunding(pool string, amount, rate uint64) {
	RewardsFunded.WithLabelValues(pool).Add(float64(amount))
	RewardRate.WithLabelValues(pool).Set(float64(rate))
}

// SetTotalStaked sets the observed staking vault balance of a pool
func SetTotalStaked(pool string, total uint64) {
	TotalStaked.WithLabelValues(pool).Set(float64(total))
}

// RecordRPCRequest records an RPC request with the given status
func RecordRPCRequest(method, status string) {
	RPCRequestsTotal.WithLabelValues(method, status).Inc()
}

// SetRPCEndpointHealth sets the health status of an RPC endpoint
func SetRPCEndpointHealth(endpoint string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	RPCEndpointHealth.WithLabelValues(endpoint).Set(value)
}

// RecordLockWait records the time spent acquiring a pool lock
func RecordLockWait(seconds float64) {
	LockWaitSeconds.Observe(seconds)
}
