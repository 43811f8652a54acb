// Package reconcile sweeps the economy for broken invariants. Settlement
// after an optimistic commit is best-effort, so drift can accumulate;
// the sweeper's job is to find it and report it, not to fix it.
package reconcile

import (
	"context"
	"os"
	"time"

	"github.com/canopy-network/ledgerx/pkg/amm"
	"github.com/canopy-network/ledgerx/pkg/ledger"
	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultCronSpec runs the sweep every five minutes (seconds field
// included). Override with RECONCILE_CRON; set it empty to disable.
const DefaultCronSpec = "0 */5 * * * *"

// Finding is one detected inconsistency.
type Finding struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Detail  string `json:"detail"`
}

// Sweeper checks ledger invariants on a schedule.
type Sweeper struct {
	store  store.Store
	logger *zap.Logger
	cron   *cron.Cron
}

func NewSweeper(s store.Store, logger *zap.Logger) *Sweeper {
	return &Sweeper{store: s, logger: logger.Named("reconcile")}
}

// Start schedules the sweep. Returns false when RECONCILE_CRON is empty
// and nothing was scheduled.
func (s *Sweeper) Start(ctx context.Context) (bool, error) {
	spec := DefaultCronSpec
	if v, ok := os.LookupEnv("RECONCILE_CRON"); ok {
		spec = v
	}
	if spec == "" {
		return false, nil
	}
	s.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err := s.cron.AddFunc(spec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
		findings, err := s.Sweep(rctx)
		if err != nil {
			s.logger.Error("Sweep failed", zap.Error(err))
			return
		}
		for _, f := range findings {
			s.logger.Warn("Reconciliation finding",
				zap.String("kind", f.Kind), zap.String("subject", f.Subject), zap.String("detail", f.Detail))
		}
	})
	if err != nil {
		return false, err
	}
	s.cron.Start()
	return true, nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep runs every check once and returns the findings.
func (s *Sweeper) Sweep(ctx context.Context) ([]Finding, error) {
	var findings []Finding

	poolFindings, err := s.checkPoolShares(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, poolFindings...)

	balanceFindings, err := s.checkBalances(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, balanceFindings...)

	reserveFindings, err := s.checkReserves(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, reserveFindings...)

	return findings, nil
}

// checkPoolShares verifies that the LP share balances minted for each pool
// sum to the pool's recorded total_shares.
func (s *Sweeper) checkPoolShares(ctx context.Context) ([]Finding, error) {
	pools, err := s.store.FindMany(ctx, amm.ColPools, nil, nil, 0)
	if err != nil {
		return nil, err
	}
	var findings []Finding
	for _, doc := range pools {
		var pool amm.Pool
		if err := store.Decode(doc, &pool); err != nil {
			continue
		}
		holders, err := s.store.FindMany(ctx, ledger.ColTokenBalances,
			store.Filter{"symbol": pool.LPSymbol()}, nil, 0)
		if err != nil {
			return nil, err
		}
		minted := decimal.Zero
		for _, h := range holders {
			b, _ := store.AsDecimal(h["balance"])
			minted = minted.Add(b)
		}
		if !minted.Equal(pool.TotalShares) {
			findings = append(findings, Finding{
				Kind:    "lp_share_mismatch",
				Subject: pool.Pair,
				Detail:  "minted " + minted.String() + " vs total_shares " + pool.TotalShares.String(),
			})
		}
	}
	return findings, nil
}

// checkBalances flags token balances below zero, which the conditional
// debit should make impossible.
func (s *Sweeper) checkBalances(ctx context.Context) ([]Finding, error) {
	docs, err := s.store.FindMany(ctx, ledger.ColTokenBalances, nil, nil, 0)
	if err != nil {
		return nil, err
	}
	var findings []Finding
	for _, doc := range docs {
		balance, ok := store.AsDecimal(doc["balance"])
		if !ok || !balance.IsNegative() {
			continue
		}
		addr, _ := doc["address"].(string)
		symbol, _ := doc["symbol"].(string)
		findings = append(findings, Finding{
			Kind:    "negative_balance",
			Subject: addr + "/" + symbol,
			Detail:  balance.String(),
		})
	}
	return findings, nil
}

// checkReserves flags pools whose reserves went non-positive, which would
// make the product invariant meaningless.
func (s *Sweeper) checkReserves(ctx context.Context) ([]Finding, error) {
	pools, err := s.store.FindMany(ctx, amm.ColPools, nil, nil, 0)
	if err != nil {
		return nil, err
	}
	var findings []Finding
	for _, doc := range pools {
		var pool amm.Pool
		if err := store.Decode(doc, &pool); err != nil {
			continue
		}
		if !pool.ReserveNative.IsPositive() || !pool.ReserveToken.IsPositive() {
			findings = append(findings, Finding{
				Kind:    "depleted_reserves",
				Subject: pool.Pair,
				Detail:  pool.ReserveNative.String() + " / " + pool.ReserveToken.String(),
			})
		}
	}
	return findings, nil
}
