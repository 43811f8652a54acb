// Package staking implements time-locked deposits with linear interest.
// Principal leaves the holder's spendable balance on deposit and returns
// with the accrued reward on withdrawal; withdrawal is guarded by a
// conditional status flip so a position can never pay out twice.
package staking

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/canopy-network/ledgerx/pkg/ledger"
	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/canopy-network/ledgerx/pkg/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ColPositions holds all staking positions.
const ColPositions = "staking_positions"

// Position statuses.
const (
	StatusActive    = "active"
	StatusWithdrawn = "withdrawn"
)

// DefaultAPY is the annual rate applied when STAKING_APY is unset.
const DefaultAPY = "0.05"

const secondsPerYear = 365 * 24 * 3600

// MoneyPlaces mirrors the ledger's decimal precision.
const MoneyPlaces = 8

// Position is one staked deposit.
type Position struct {
	ID        string          `json:"_id"`
	Address   string          `json:"address"`
	Symbol    string          `json:"symbol"`
	Principal decimal.Decimal `json:"principal"`
	APY       decimal.Decimal `json:"apy"`
	Status    string          `json:"status"`
	StartTime int64           `json:"start_time"`
	EndTime   int64           `json:"end_time,omitempty"`
	Reward    decimal.Decimal `json:"reward"`
}

// DepositRequest opens a position.
type DepositRequest struct {
	Address   string
	Symbol    string
	Amount    decimal.Decimal
	Timestamp int64
	Signature string
}

// WithdrawResult reports a closed position.
type WithdrawResult struct {
	PositionID string          `json:"position_id"`
	Principal  decimal.Decimal `json:"principal"`
	Reward     decimal.Decimal `json:"reward"`
	Total      decimal.Decimal `json:"total"`
}

// Service manages staking positions.
type Service struct {
	store  store.Store
	assets *ledger.Assets
	logger *zap.Logger
	apy    decimal.Decimal
	now    func() time.Time
}

func NewService(s store.Store, assets *ledger.Assets, logger *zap.Logger) *Service {
	return &Service{
		store:  s,
		assets: assets,
		logger: logger.Named("staking"),
		apy:    utils.EnvDecimal("STAKING_APY", DefaultAPY),
		now:    time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Deposit debits the principal and opens an active position. The debit runs
// first so a failed insert can refund rather than the reverse creating
// unbacked positions.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (*Position, error) {
	if !req.Amount.IsPositive() {
		return nil, econ.E(econ.CodeValidation, "stake amount must be positive")
	}
	if err := econ.CheckFreshness(req.Timestamp, s.now(), econ.FreshnessWindow()); err != nil {
		return nil, err
	}

	asset := ledger.AssetOf(req.Symbol)
	if err := s.assets.Debit(ctx, req.Address, asset, req.Amount); err != nil {
		return nil, err
	}

	pos := Position{
		ID:        "stake_" + uuid.NewString(),
		Address:   req.Address,
		Symbol:    req.Symbol,
		Principal: req.Amount,
		APY:       s.apy,
		Status:    StatusActive,
		StartTime: s.now().Unix(),
		Reward:    decimal.Zero,
	}
	doc, err := store.ToDoc(pos)
	if err != nil {
		s.refund(ctx, req.Address, asset, req.Amount)
		return nil, econ.Wrap(econ.CodeInternal, err, "encode position")
	}
	if _, err := s.store.InsertOne(ctx, ColPositions, doc); err != nil {
		s.refund(ctx, req.Address, asset, req.Amount)
		return nil, econ.Wrap(econ.CodeInternal, err, "insert position")
	}
	return &pos, nil
}

func (s *Service) refund(ctx context.Context, address string, asset ledger.Asset, amount decimal.Decimal) {
	if err := s.assets.Credit(ctx, address, asset, amount); err != nil {
		s.logger.Error("Stake refund failed",
			zap.String("address", address), zap.String("symbol", asset.Symbol()), zap.Error(err))
	}
}

// Reward computes the linear interest a position has earned up to now,
// rounded down so staking never creates fractional dust.
func Reward(principal, apy decimal.Decimal, elapsed time.Duration) decimal.Decimal {
	if elapsed <= 0 {
		return decimal.Zero
	}
	fraction := decimal.NewFromInt(int64(elapsed.Seconds())).
		Div(decimal.NewFromInt(secondsPerYear))
	return principal.Mul(apy).Mul(fraction).RoundDown(MoneyPlaces)
}

// Withdraw closes a position and pays out principal plus reward. The status
// flip is conditional on the position still being active, so two concurrent
// withdrawals cannot both pay: exactly one sees the flip succeed.
func (s *Service) Withdraw(ctx context.Context, address, positionID string) (*WithdrawResult, error) {
	doc, err := s.store.FindOne(ctx, ColPositions, store.Filter{store.ID: positionID})
	if errors.Is(err, store.ErrNoDocuments) {
		return nil, econ.E(econ.CodeNotFound, "position %s not found", positionID)
	}
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load position")
	}
	var pos Position
	if err := store.Decode(doc, &pos); err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "decode position")
	}
	if pos.Address != address {
		return nil, econ.E(econ.CodeValidation, "position %s does not belong to %s", positionID, address)
	}
	if pos.Status != StatusActive {
		return nil, econ.E(econ.CodeAlreadyWithdrawn, "position %s already withdrawn", positionID)
	}

	now := s.now()
	reward := Reward(pos.Principal, pos.APY, now.Sub(time.Unix(pos.StartTime, 0)))

	matched, err := s.store.UpdateOne(ctx, ColPositions,
		store.Filter{store.ID: positionID, "status": StatusActive},
		store.Update{Set: store.Doc{
			"status":   StatusWithdrawn,
			"end_time": now.Unix(),
			"reward":   reward,
		}})
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "close position")
	}
	if !matched {
		return nil, econ.E(econ.CodeAlreadyWithdrawn, "position %s already withdrawn", positionID)
	}

	total := pos.Principal.Add(reward)
	if err := s.assets.Credit(ctx, address, ledger.AssetOf(pos.Symbol), total); err != nil {
		// The position is closed; the payout failure is surfaced for
		// reconciliation rather than reopening the position.
		s.logger.Error("Stake payout failed",
			zap.String("position", positionID), zap.String("address", address), zap.Error(err))
		return nil, econ.Wrap(econ.CodeInternal, err, "pay out position %s", positionID)
	}

	return &WithdrawResult{
		PositionID: positionID,
		Principal:  pos.Principal,
		Reward:     reward,
		Total:      total,
	}, nil
}

// List returns an address's positions, newest first.
func (s *Service) List(ctx context.Context, address string) ([]Position, error) {
	docs, err := s.store.FindMany(ctx, ColPositions, store.Filter{"address": address}, nil, 0)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load positions")
	}
	out := make([]Position, 0, len(docs))
	for _, doc := range docs {
		var p Position
		if err := store.Decode(doc, &p); err != nil {
			return nil, econ.Wrap(econ.CodeInternal, err, "decode position")
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime > out[j].StartTime })
	return out, nil
}
