// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package gasprice

import (
	"errors"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
)

const (
	defaultBlockLimit      = 20
	defaultTxLimitPerBlock = 3
	defaultSoftTxThreshold = 40
	defaultIgnoreUnder     = 0
	percentile             = 60
)

// defaultMaxGasPrice is 500 Gwei, the hard ceiling on any suggested price.
var defaultMaxGasPrice = uint256.NewInt(500_000_000_000)

// ErrNoHead reports that the chain has no head block to sample from,
// the failure spec.md §4.H calls for instead of an exception. A missing
// ancestor block (genesis included) is not an error: it ends the walk.
var ErrNoHead = errors.New("gasprice: no head block available")

// BlockFinder is the minimal chain-reading surface the oracle needs:
// the current head and arbitrary ancestors by hash, walked back from it.
type BlockFinder interface {
	CurrentBlock() *types.Block
	GetBlock(hash common.Hash, number uint64) *types.Block
	IsLondon(number uint64) bool // true once the chain enforces EIP-1559
}

// Config holds the oracle's tunables, all defaulted from spec.md §4.H.
type Config struct {
	BlockLimit      int
	TxLimitPerBlock int
	SoftTxThreshold int
	IgnoreUnder     *uint256.Int
	MaxGasPrice     *uint256.Int
}

func (c *Config) withDefaults() Config {
	out := Config{
		BlockLimit:      defaultBlockLimit,
		TxLimitPerBlock: defaultTxLimitPerBlock,
		SoftTxThreshold: defaultSoftTxThreshold,
		IgnoreUnder:     uint256.NewInt(defaultIgnoreUnder),
		MaxGasPrice:     defaultMaxGasPrice,
	}
	if c == nil {
		return out
	}
	if c.BlockLimit > 0 {
		out.BlockLimit = c.BlockLimit
	}
	if c.TxLimitPerBlock > 0 {
		out.TxLimitPerBlock = c.TxLimitPerBlock
	}
	if c.SoftTxThreshold > 0 {
		out.SoftTxThreshold = c.SoftTxThreshold
	}
	if c.IgnoreUnder != nil {
		out.IgnoreUnder = c.IgnoreUnder
	}
	if c.MaxGasPrice != nil {
		out.MaxGasPrice = c.MaxGasPrice
	}
	return out
}

// Oracle implements component H: a percentile-60 gas-price estimate
// sampled from up to BlockLimit recent blocks, cached per head hash.
type Oracle struct {
	chain  BlockFinder
	params Config

	mu    sync.Mutex
	cache *lru.Cache[common.Hash, *uint256.Int]
}

// NewOracle constructs an oracle over chain with the given config
// (nil selects every spec.md §4.H default).
func NewOracle(chain BlockFinder, cfg *Config) *Oracle {
	cache, _ := lru.New[common.Hash, *uint256.Int](8)
	return &Oracle{chain: chain, params: cfg.withDefaults(), cache: cache}
}

// Estimate returns the recommended gas price, or ErrNoHead if the chain
// has no usable head. Repeated calls against the same head hash are
// served from cache without resampling.
func (o *Oracle) Estimate() (*uint256.Int, error) {
	head := o.chain.CurrentBlock()
	if head == nil {
		return nil, ErrNoHead
	}
	headHash := head.Hash()

	o.mu.Lock()
	if cached, ok := o.cache.Get(headHash); ok {
		o.mu.Unlock()
		return cached, nil
	}
	o.mu.Unlock()

	samples := o.sample(head)
	sort.Slice(samples, func(i, j int) bool { return samples[i].Lt(samples[j]) })

	result := o.percentile(samples)
	if result.Cmp(o.params.MaxGasPrice) > 0 {
		result = o.params.MaxGasPrice
	}

	o.mu.Lock()
	o.cache.Add(headHash, result)
	o.mu.Unlock()

	log.Trace("gasprice: estimated price", "head", headHash, "samples", len(samples), "price", result)
	return result, nil
}

// sample walks back up to BlockLimit blocks from head, collecting up to
// TxLimitPerBlock accepted prices per block, stopping early once the
// accumulated sample count plus remaining block allowance would already
// satisfy SoftTxThreshold.
func (o *Oracle) sample(head *types.Block) []*uint256.Int {
	var samples []*uint256.Int

	block := head
	for i := 0; i < o.params.BlockLimit && block != nil; i++ {
		picked := o.fromBlock(block)
		if len(picked) == 0 {
			picked = append(picked, o.params.IgnoreUnder)
		}
		samples = append(samples, picked...)

		remaining := o.params.BlockLimit - i - 1
		if len(samples)+remaining >= o.params.SoftTxThreshold {
			break
		}
		if block.NumberU64() == 0 {
			break
		}
		block = o.chain.GetBlock(block.ParentHash(), block.NumberU64()-1)
	}
	return samples
}

// fromBlock sorts one block's transactions by effective gas price and
// returns up to TxLimitPerBlock accepted prices, filtering out prices
// below IgnoreUnder, self-paid (sender == beneficiary) transactions, and
// (pre-London) 1559-typed transactions.
func (o *Oracle) fromBlock(block *types.Block) []*uint256.Int {
	txs := append([]*types.Transaction{}, block.Transactions()...)
	sort.Slice(txs, func(i, j int) bool {
		return effectivePrice(txs[i]).Lt(effectivePrice(txs[j]))
	})

	beneficiary := block.Coinbase()
	london := o.chain.IsLondon(block.NumberU64())

	var picked []*uint256.Int
	for _, tx := range txs {
		if len(picked) >= o.params.TxLimitPerBlock {
			break
		}
		price := effectivePrice(tx)
		if price.Lt(o.params.IgnoreUnder) {
			continue
		}
		if !london && tx.Type() == types.DynamicFeeTxType {
			continue
		}
		sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		if err == nil && sender == beneficiary {
			continue
		}
		picked = append(picked, price)
	}
	return picked
}

func effectivePrice(tx *types.Transaction) *uint256.Int {
	price, overflow := uint256.FromBig(tx.GasPrice())
	if overflow {
		return defaultMaxGasPrice
	}
	return price
}

// percentile returns the value at the given percentile (rounded to the
// nearest index) of an ascending-sorted sample list.
func (o *Oracle) percentile(sorted []*uint256.Int) *uint256.Int {
	if len(sorted) == 0 {
		return o.params.IgnoreUnder
	}
	idx := ((len(sorted)-1)*percentile + 50) / 100
	return sorted[idx]
}
