// Package miner provides the proof-of-work search: canonical block-header
// hashing and a parallel nonce scan. Difficulty counts leading zero hex
// characters of the sha256 header hash.
package miner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/ledgerx/pkg/utils"
	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds the nonce search. When the bound is exhausted
// without a hit the best-effort hash is accepted anyway, which keeps block
// production moving on low-power deployments. The bound is tunable via
// MINER_MAX_ATTEMPTS.
const DefaultMaxAttempts = 100000

// DefaultWorkers sizes the search pool when MINER_WORKERS is unset.
const DefaultWorkers = 4

// Result is the outcome of a nonce search.
type Result struct {
	Nonce uint64
	Hash  string
	// Solved is false when the attempt bound ran out and the weakest-hash
	// policy kicked in.
	Solved bool
}

// Miner runs bounded parallel nonce searches.
type Miner struct {
	logger      *zap.Logger
	pool        pond.Pool
	maxAttempts uint64
	workers     int
}

func New(logger *zap.Logger) *Miner {
	workers := utils.EnvInt("MINER_WORKERS", DefaultWorkers)
	if workers < 1 {
		workers = 1
	}
	return &Miner{
		logger:      logger.Named("miner"),
		pool:        pond.NewPool(workers),
		maxAttempts: uint64(utils.EnvInt64("MINER_MAX_ATTEMPTS", DefaultMaxAttempts)),
		workers:     workers,
	}
}

// Close drains the worker pool.
func (m *Miner) Close() {
	m.pool.StopAndWait()
}

// HashHeader hashes a block header with a candidate nonce. The header is
// serialized as canonical JSON (map keys sorted) so the digest is
// independent of field declaration order.
func HashHeader(header map[string]any, nonce uint64) (string, error) {
	canonical := make(map[string]any, len(header)+1)
	for k, v := range header {
		canonical[k] = v
	}
	canonical["nonce"] = nonce
	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// MeetsDifficulty reports whether a hash has the required leading zeros.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if difficulty > len(hash) {
		difficulty = len(hash)
	}
	return strings.HasPrefix(hash, strings.Repeat("0", difficulty))
}

// FindNonce scans the nonce range in parallel, one contiguous chunk per
// worker, and returns the first nonce whose hash meets the difficulty.
// On exhaustion it returns the last hash tried with Solved=false.
func (m *Miner) FindNonce(ctx context.Context, header map[string]any, difficulty int) (Result, error) {
	// Sanity-check serializability once before fanning out.
	if _, err := HashHeader(header, 0); err != nil {
		return Result{}, err
	}

	chunk := m.maxAttempts / uint64(m.workers)
	if chunk == 0 {
		chunk = 1
	}

	var found atomic.Bool
	results := make(chan Result, m.workers)
	group := m.pool.NewGroup()

	for w := 0; w < m.workers; w++ {
		start := uint64(w) * chunk
		end := start + chunk
		if w == m.workers-1 {
			end = m.maxAttempts
		}
		group.Submit(func() {
			var last Result
			for nonce := start; nonce < end; nonce++ {
				if found.Load() || ctx.Err() != nil {
					return
				}
				hash, err := HashHeader(header, nonce)
				if err != nil {
					return
				}
				last = Result{Nonce: nonce, Hash: hash}
				if MeetsDifficulty(hash, difficulty) {
					last.Solved = true
					if found.CompareAndSwap(false, true) {
						results <- last
					}
					return
				}
			}
			// Exhausted this chunk without a hit.
			select {
			case results <- last:
			default:
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return Result{}, err
	}
	close(results)

	var best Result
	for r := range results {
		if r.Solved {
			return r, nil
		}
		best = r
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m.logger.Debug("Nonce search exhausted, accepting weakest hash",
		zap.Uint64("attempts", m.maxAttempts), zap.Int("difficulty", difficulty))
	return best, nil
}
