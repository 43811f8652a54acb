// Package chain maintains the block ledger and mempool. Blocks carry native
// transactions; accepting a block spends its inputs and materializes its
// outputs in the UTXO set, so the chain and the balance ledger can never
// disagree about what was confirmed.
package chain

import (
	"github.com/canopy-network/ledgerx/pkg/ledger"
	"github.com/canopy-network/ledgerx/pkg/miner"
	"github.com/shopspring/decimal"
)

// Collections.
const (
	ColBlocks  = "blocks"
	ColMempool = "mempool"
)

// GenesisPreviousHash anchors the first block.
const GenesisPreviousHash = "0"

// DefaultDifficulty is the leading-zero requirement when CHAIN_DIFFICULTY
// is unset. Genesis uses a reduced difficulty since nobody mines it.
const (
	DefaultDifficulty = 4
	GenesisDifficulty = 2
)

// DefaultBlockReward is the coinbase subsidy in native coin, tunable via
// CHAIN_BLOCK_REWARD.
const DefaultBlockReward = "50"

// Transaction moves native coin by consuming UTXOs and creating outputs.
// A coinbase transaction has no inputs.
type Transaction struct {
	TxID      string          `json:"txid"`
	Inputs    []ledger.Input  `json:"inputs"`
	Outputs   []ledger.Output `json:"outputs"`
	Timestamp int64           `json:"timestamp"`
}

// Coinbase reports whether the transaction mints rather than moves.
func (t Transaction) Coinbase() bool { return len(t.Inputs) == 0 }

// Block is one chain entry. The document id is the hash; Index is the
// height and must increase by exactly one per block.
type Block struct {
	ID           string        `json:"_id"`
	Index        int64         `json:"index"`
	Timestamp    int64         `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	PreviousHash string        `json:"previous_hash"`
	Nonce        uint64        `json:"nonce"`
	Hash         string        `json:"hash"`
	Difficulty   int           `json:"difficulty"`
}

// Header returns the hashable fields, nonce excluded. The miner appends the
// candidate nonce itself.
func (b Block) Header() map[string]any {
	txids := make([]string, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		txids = append(txids, tx.TxID)
	}
	return map[string]any{
		"index":         b.Index,
		"timestamp":     b.Timestamp,
		"transactions":  txids,
		"previous_hash": b.PreviousHash,
		"difficulty":    b.Difficulty,
	}
}

// Seal computes and stores the block hash for its current nonce.
func (b *Block) Seal() error {
	hash, err := miner.HashHeader(b.Header(), b.Nonce)
	if err != nil {
		return err
	}
	b.Hash = hash
	b.ID = hash
	return nil
}

// MineResult reports a freshly mined block and its coinbase breakdown.
type MineResult struct {
	Block      *Block          `json:"block"`
	Reward     decimal.Decimal `json:"reward"`
	Fees       decimal.Decimal `json:"fees"`
	Solved     bool            `json:"solved"`
	TxIncluded int             `json:"tx_included"`
}

// MinerScore is one leaderboard row.
type MinerScore struct {
	Address string `json:"address"`
	Blocks  int64  `json:"blocks"`
}

// NetworkStats summarizes the chain for dashboards.
type NetworkStats struct {
	BlockHeight int64 `json:"block_height"`
	MempoolSize int64 `json:"mempool_size"`
	UTXOCount   int64 `json:"utxo_count"`
	Difficulty  int   `json:"difficulty"`
}
