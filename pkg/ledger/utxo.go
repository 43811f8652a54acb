package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UTXOLedger tracks spendable native-coin outputs. A UTXO is created when a
// transaction output confirms and deleted exactly once when consumed; address
// balance is the sum of live UTXOs, nothing else.
type UTXOLedger struct {
	store  store.Store
	logger *zap.Logger
}

func NewUTXOLedger(s store.Store, logger *zap.Logger) *UTXOLedger {
	return &UTXOLedger{store: s, logger: logger}
}

// BalanceOf sums live UTXO amounts for an address.
func (l *UTXOLedger) BalanceOf(ctx context.Context, address string) (decimal.Decimal, error) {
	utxos, err := l.UTXOs(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, u := range utxos {
		total = total.Add(u.Amount)
	}
	return total, nil
}

// UTXOs lists live outputs owned by an address.
func (l *UTXOLedger) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	docs, err := l.store.FindMany(ctx, ColUTXOs, store.Filter{"address": address}, nil, 0)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load utxos for %s", address)
	}
	out := make([]UTXO, 0, len(docs))
	for _, doc := range docs {
		var u UTXO
		if err := store.Decode(doc, &u); err != nil {
			return nil, econ.Wrap(econ.CodeInternal, err, "decode utxo")
		}
		out = append(out, u)
	}
	return out, nil
}

// utxoID keys an output document so (txid, vout) is unique at the store
// level and a replayed transaction cannot mint its outputs twice.
func utxoID(txid string, vout int) string {
	return fmt.Sprintf("%s:%d", txid, vout)
}

// CreateOutputs inserts one UTXO per output at sequential indices under txid.
func (l *UTXOLedger) CreateOutputs(ctx context.Context, txid string, outputs []Output) error {
	for i, out := range outputs {
		if out.Amount.IsNegative() {
			return econ.E(econ.CodeValidation, "negative output amount")
		}
		doc, err := store.ToDoc(UTXO{TxID: txid, Vout: i, Amount: out.Amount, Address: out.Address})
		if err != nil {
			return econ.Wrap(econ.CodeInternal, err, "encode utxo")
		}
		doc[store.ID] = utxoID(txid, i)
		if _, err := l.store.InsertOne(ctx, ColUTXOs, doc); err != nil {
			if errors.Is(err, store.ErrDuplicateID) {
				return econ.E(econ.CodeValidation, "output %s:%d already exists", txid, i)
			}
			return econ.Wrap(econ.CodeInternal, err, "insert utxo %s:%d", txid, i)
		}
	}
	return nil
}

// CreateUTXO mints a single output under a fresh transaction id (faucet,
// staking returns, swap payouts) and returns it.
func (l *UTXOLedger) CreateUTXO(ctx context.Context, prefix, address string, amount decimal.Decimal) (*UTXO, error) {
	u := UTXO{TxID: prefix + "_" + uuid.NewString(), Vout: 0, Amount: amount, Address: address}
	doc, err := store.ToDoc(u)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "encode utxo")
	}
	doc[store.ID] = utxoID(u.TxID, u.Vout)
	if _, err := l.store.InsertOne(ctx, ColUTXOs, doc); err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "insert utxo")
	}
	return &u, nil
}

// Spend consumes inputs. Ownership is enforced here: the delete filter
// includes the expected owner, so a UTXO held by someone else is left alone.
// Inputs referencing already-consumed or unknown outputs are silent no-ops;
// the returned total covers only what was actually consumed.
func (l *UTXOLedger) Spend(ctx context.Context, inputs []Input, owner string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, in := range inputs {
		filter := store.Filter{"txid": in.TxID, "vout": in.Vout}
		if owner != "" {
			filter["address"] = owner
		}
		doc, err := l.store.FindOne(ctx, ColUTXOs, filter)
		if err != nil {
			continue
		}
		var u UTXO
		if err := store.Decode(doc, &u); err != nil {
			continue
		}
		deleted, err := l.store.DeleteOne(ctx, ColUTXOs, filter)
		if err != nil {
			return total, econ.Wrap(econ.CodeInternal, err, "spend utxo %s:%d", in.TxID, in.Vout)
		}
		if deleted {
			total = total.Add(u.Amount)
		}
	}
	return total, nil
}

// DebitNative withdraws amount of native coin from an address by consuming
// its UTXOs and minting change. Each consumption is an atomic delete, so a
// concurrent spender takes each output at most once; whatever this call
// managed to consume before discovering a shortfall is refunded as a new
// UTXO before the insufficient-balance error is returned.
func (l *UTXOLedger) DebitNative(ctx context.Context, address string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return econ.E(econ.CodeValidation, "debit amount must be positive")
	}

	utxos, err := l.UTXOs(ctx, address)
	if err != nil {
		return err
	}

	gathered := decimal.Zero
	for _, u := range utxos {
		if gathered.GreaterThanOrEqual(amount) {
			break
		}
		deleted, err := l.store.DeleteOne(ctx, ColUTXOs,
			store.Filter{"txid": u.TxID, "vout": u.Vout, "address": address})
		if err != nil {
			return econ.Wrap(econ.CodeInternal, err, "consume utxo %s:%d", u.TxID, u.Vout)
		}
		if deleted {
			gathered = gathered.Add(u.Amount)
		}
	}

	if gathered.LessThan(amount) {
		if gathered.IsPositive() {
			if _, err := l.CreateUTXO(ctx, "refund", address, gathered); err != nil {
				l.logger.Error("Failed to refund partially consumed outputs",
					zap.String("address", address),
					zap.String("amount", gathered.String()),
					zap.Error(err))
			}
		}
		return econ.E(econ.CodeInsufficientBalance, "insufficient native balance for %s", address)
	}

	if change := gathered.Sub(amount); change.IsPositive() {
		if _, err := l.CreateUTXO(ctx, "change", address, change); err != nil {
			return econ.Wrap(econ.CodeInternal, err, "mint change output")
		}
	}
	return nil
}
