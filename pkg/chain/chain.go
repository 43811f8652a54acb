package chain

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/canopy-network/ledgerx/pkg/events"
	"github.com/canopy-network/ledgerx/pkg/ledger"
	"github.com/canopy-network/ledgerx/pkg/miner"
	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/canopy-network/ledgerx/pkg/utils"
	"github.com/canopy-network/ledgerx/pkg/wallet"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FeeSource drains accumulated native fees into a coinbase exactly once,
// and takes them back if the block they were drained for never lands. The
// AMM's owner-fee pot satisfies this.
type FeeSource interface {
	DrainFeePot(ctx context.Context) (decimal.Decimal, error)
	AccrueNativeFee(ctx context.Context, amount decimal.Decimal) error
}

// Service owns the block ledger, the mempool, and the mining flow.
type Service struct {
	store      store.Store
	utxos      *ledger.UTXOLedger
	miner      *miner.Miner
	fees       FeeSource
	events     *events.Publisher
	logger     *zap.Logger
	difficulty int
	reward     decimal.Decimal
	now        func() time.Time
}

func NewService(s store.Store, utxos *ledger.UTXOLedger, m *miner.Miner, fees FeeSource, pub *events.Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:      s,
		utxos:      utxos,
		miner:      m,
		fees:       fees,
		events:     pub,
		logger:     logger.Named("chain"),
		difficulty: utils.EnvInt("CHAIN_DIFFICULTY", DefaultDifficulty),
		reward:     utils.EnvDecimal("CHAIN_BLOCK_REWARD", DefaultBlockReward),
		now:        time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Init writes the genesis block if the chain is empty. Safe to call on
// every boot; concurrent boots collapse on the deterministic-enough insert
// because genesis hashing is a pure function of its fields.
func (s *Service) Init(ctx context.Context) (bool, error) {
	count, err := s.store.Count(ctx, ColBlocks, nil)
	if err != nil {
		return false, econ.Wrap(econ.CodeInternal, err, "count blocks")
	}
	if count > 0 {
		return false, nil
	}
	genesis := &Block{
		Index:        0,
		Timestamp:    s.now().Unix(),
		Transactions: []Transaction{},
		PreviousHash: GenesisPreviousHash,
		Difficulty:   GenesisDifficulty,
	}
	if err := genesis.Seal(); err != nil {
		return false, econ.Wrap(econ.CodeInternal, err, "seal genesis")
	}
	doc, err := store.ToDoc(genesis)
	if err != nil {
		return false, econ.Wrap(econ.CodeInternal, err, "encode genesis")
	}
	if _, err := s.store.InsertOne(ctx, ColBlocks, doc); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return false, nil
		}
		return false, econ.Wrap(econ.CodeInternal, err, "insert genesis")
	}
	s.logger.Info("Genesis block written", zap.String("hash", genesis.Hash))
	return true, nil
}

// LastBlock returns the chain tip.
func (s *Service) LastBlock(ctx context.Context) (*Block, error) {
	docs, err := s.store.FindMany(ctx, ColBlocks, nil, &store.Sort{Field: "index", Desc: true}, 1)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load chain tip")
	}
	if len(docs) == 0 {
		return nil, econ.E(econ.CodeNotFound, "chain is empty")
	}
	var b Block
	if err := store.Decode(docs[0], &b); err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "decode block")
	}
	return &b, nil
}

// Blocks returns recent blocks, newest first.
func (s *Service) Blocks(ctx context.Context, limit int) ([]Block, error) {
	docs, err := s.store.FindMany(ctx, ColBlocks, nil, &store.Sort{Field: "index", Desc: true}, limit)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load blocks")
	}
	out := make([]Block, 0, len(docs))
	for _, doc := range docs {
		var b Block
		if err := store.Decode(doc, &b); err != nil {
			return nil, econ.Wrap(econ.CodeInternal, err, "decode block")
		}
		out = append(out, b)
	}
	return out, nil
}

// BlockByHash loads one block.
func (s *Service) BlockByHash(ctx context.Context, hash string) (*Block, error) {
	doc, err := s.store.FindOne(ctx, ColBlocks, store.Filter{store.ID: hash})
	if errors.Is(err, store.ErrNoDocuments) {
		return nil, econ.E(econ.CodeNotFound, "block %s not found", hash)
	}
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load block")
	}
	var b Block
	if err := store.Decode(doc, &b); err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "decode block")
	}
	return &b, nil
}

// SubmitTransaction verifies input signatures and parks the transaction in
// the mempool for the next block. Each input must be signed over the txid
// by the key that hashes to the owning address.
func (s *Service) SubmitTransaction(ctx context.Context, tx Transaction) (*Transaction, error) {
	if tx.Coinbase() {
		return nil, econ.E(econ.CodeValidation, "coinbase transactions cannot be submitted")
	}
	if len(tx.Outputs) == 0 {
		return nil, econ.E(econ.CodeValidation, "transaction has no outputs")
	}
	for _, out := range tx.Outputs {
		if !out.Amount.IsPositive() {
			return nil, econ.E(econ.CodeValidation, "output amounts must be positive")
		}
	}
	if tx.TxID == "" {
		tx.TxID = "tx_" + uuid.NewString()
	}
	if tx.Timestamp == 0 {
		tx.Timestamp = s.now().Unix()
	}
	for _, in := range tx.Inputs {
		if in.PublicKey == "" || in.Signature == "" {
			return nil, econ.E(econ.CodeSignatureInvalid, "input %s:%d is unsigned", in.TxID, in.Vout)
		}
		if !wallet.Verify(in.PublicKey, []byte(tx.TxID), in.Signature) {
			return nil, econ.E(econ.CodeSignatureInvalid, "input %s:%d signature invalid", in.TxID, in.Vout)
		}
	}

	doc, err := store.ToDoc(tx)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "encode transaction")
	}
	doc[store.ID] = tx.TxID
	if _, err := s.store.InsertOne(ctx, ColMempool, doc); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return nil, econ.E(econ.CodeValidation, "transaction %s already pending", tx.TxID)
		}
		return nil, econ.Wrap(econ.CodeInternal, err, "insert transaction")
	}
	return &tx, nil
}

// Mempool lists pending transactions.
func (s *Service) Mempool(ctx context.Context) ([]Transaction, error) {
	docs, err := s.store.FindMany(ctx, ColMempool, nil, &store.Sort{Field: "timestamp", Desc: false}, 0)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load mempool")
	}
	out := make([]Transaction, 0, len(docs))
	for _, doc := range docs {
		var tx Transaction
		if err := store.Decode(doc, &tx); err != nil {
			return nil, econ.Wrap(econ.CodeInternal, err, "decode transaction")
		}
		out = append(out, tx)
	}
	return out, nil
}

// AddBlock appends an externally mined block. Linkage is strict: the block
// must extend the current tip by exactly one height and reference its hash.
// On acceptance the block's transactions are applied to the UTXO set and
// cleared from the mempool.
func (s *Service) AddBlock(ctx context.Context, block *Block) error {
	tip, err := s.LastBlock(ctx)
	if err != nil {
		return err
	}
	if block.PreviousHash != tip.Hash {
		return econ.E(econ.CodeChainLinkage,
			"previous hash %s does not match tip %s", block.PreviousHash, tip.Hash)
	}
	if block.Index != tip.Index+1 {
		return econ.E(econ.CodeChainLinkage,
			"height %d does not extend tip height %d", block.Index, tip.Index)
	}
	if err := block.Seal(); err != nil {
		return econ.Wrap(econ.CodeInternal, err, "seal block")
	}

	doc, err := store.ToDoc(block)
	if err != nil {
		return econ.Wrap(econ.CodeInternal, err, "encode block")
	}
	if _, err := s.store.InsertOne(ctx, ColBlocks, doc); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return econ.E(econ.CodeChainLinkage, "block %s already accepted", block.Hash)
		}
		return econ.Wrap(econ.CodeInternal, err, "insert block")
	}

	s.applyTransactions(ctx, block)
	s.clearMempool(ctx, block)
	s.events.Publish(ctx, events.ChannelBlocks, block)
	return nil
}

// applyTransactions spends inputs and materializes outputs. The block is
// already accepted; per-transaction failures are logged for reconciliation
// rather than unwinding the chain.
func (s *Service) applyTransactions(ctx context.Context, block *Block) {
	for _, tx := range block.Transactions {
		if !tx.Coinbase() {
			// Owner was checked at submission via the input signatures; the
			// spend here is keyed by txid:vout alone.
			for _, in := range tx.Inputs {
				if _, err := s.store.DeleteOne(ctx, ledger.ColUTXOs,
					store.Filter{"txid": in.TxID, "vout": in.Vout}); err != nil {
					s.logger.Error("Block apply: input spend failed",
						zap.String("block", block.Hash), zap.String("txid", in.TxID), zap.Error(err))
				}
			}
		}
		if err := s.utxos.CreateOutputs(ctx, tx.TxID, tx.Outputs); err != nil {
			s.logger.Error("Block apply: output create failed",
				zap.String("block", block.Hash), zap.String("txid", tx.TxID), zap.Error(err))
		}
	}
}

func (s *Service) clearMempool(ctx context.Context, block *Block) {
	ids := make([]any, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		ids = append(ids, tx.TxID)
	}
	if len(ids) == 0 {
		return
	}
	if _, err := s.store.DeleteMany(ctx, ColMempool, store.Filter{store.ID: store.In(ids...)}); err != nil {
		s.logger.Error("Mempool clear failed", zap.String("block", block.Hash), zap.Error(err))
	}
}

// Mine assembles a block from the mempool, pays the miner a coinbase of
// block reward plus the drained fee pot, runs the nonce search, and appends
// the result. The fee pot drain happens after the block is accepted so an
// assembly failure cannot strand drained fees.
func (s *Service) Mine(ctx context.Context, minerAddress string) (*MineResult, error) {
	if minerAddress == "" {
		return nil, econ.E(econ.CodeValidation, "miner address is required")
	}
	tip, err := s.LastBlock(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.Mempool(ctx)
	if err != nil {
		return nil, err
	}

	fees, err := s.fees.DrainFeePot(ctx)
	if err != nil {
		return nil, err
	}
	payout := s.reward.Add(fees)

	coinbase := Transaction{
		TxID:      "coinbase_" + uuid.NewString(),
		Inputs:    nil,
		Outputs:   []ledger.Output{{Amount: payout, Address: minerAddress}},
		Timestamp: s.now().Unix(),
	}
	block := &Block{
		Index:        tip.Index + 1,
		Timestamp:    s.now().Unix(),
		Transactions: append([]Transaction{coinbase}, pending...),
		PreviousHash: tip.Hash,
		Difficulty:   s.difficulty,
	}

	result, err := s.miner.FindNonce(ctx, block.Header(), block.Difficulty)
	if err != nil {
		s.restoreFees(ctx, fees)
		return nil, econ.Wrap(econ.CodeInternal, err, "nonce search")
	}
	block.Nonce = result.Nonce

	if err := s.AddBlock(ctx, block); err != nil {
		s.restoreFees(ctx, fees)
		return nil, err
	}
	s.logger.Info("Block mined",
		zap.Int64("height", block.Index),
		zap.String("hash", block.Hash),
		zap.Bool("solved", result.Solved),
		zap.Int("transactions", len(block.Transactions)))

	return &MineResult{
		Block:      block,
		Reward:     s.reward,
		Fees:       fees,
		Solved:     result.Solved,
		TxIncluded: len(block.Transactions),
	}, nil
}

// restoreFees returns drained fees to the pot when mining fails after the
// drain. Best-effort; a failure here is a reconciliation finding.
func (s *Service) restoreFees(ctx context.Context, fees decimal.Decimal) {
	if !fees.IsPositive() {
		return
	}
	if err := s.fees.AccrueNativeFee(ctx, fees); err != nil {
		s.logger.Error("Fee pot restore failed, drained fees lost",
			zap.String("amount", fees.String()), zap.Error(err))
	}
}

// Stats summarizes the network.
func (s *Service) Stats(ctx context.Context) (*NetworkStats, error) {
	height, err := s.store.Count(ctx, ColBlocks, nil)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "count blocks")
	}
	pending, err := s.store.Count(ctx, ColMempool, nil)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "count mempool")
	}
	utxos, err := s.store.Count(ctx, ledger.ColUTXOs, nil)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "count utxos")
	}
	return &NetworkStats{
		BlockHeight: height,
		MempoolSize: pending,
		UTXOCount:   utxos,
		Difficulty:  s.difficulty,
	}, nil
}

// Leaderboard aggregates mined blocks per coinbase recipient.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]MinerScore, error) {
	blocks, err := s.Blocks(ctx, 0)
	if err != nil {
		return nil, err
	}
	counts := map[string]int64{}
	for _, b := range blocks {
		for _, tx := range b.Transactions {
			if tx.Coinbase() && len(tx.Outputs) > 0 {
				counts[tx.Outputs[0].Address]++
			}
		}
	}
	out := make([]MinerScore, 0, len(counts))
	for addr, n := range counts {
		out = append(out, MinerScore{Address: addr, Blocks: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Blocks != out[j].Blocks {
			return out[i].Blocks > out[j].Blocks
		}
		return out[i].Address < out[j].Address
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
