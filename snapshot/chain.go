package snapshot

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"margin-repeater/contracts"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// OrdersFetchSize bounds how many of the most recent conditional order ids are scanned.
const OrdersFetchSize = 500

// ContractCaller performs a single eth_call. *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// BatchCaller sends several JSON-RPC requests in one round trip. *rpc.Client satisfies it.
type BatchCaller interface {
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

// ChainConfig configures a ChainProvider.
type ChainConfig struct {
	MarketData common.Address
	SUSD       common.Address
	// IncludeOwnerBalance adds the account owner's wallet sUSD to TotalBalance.
	IncludeOwnerBalance bool
	// BatchSize caps the number of eth_call requests per JSON-RPC batch.
	BatchSize int
	// RateLimit caps JSON-RPC requests per second; zero means unlimited.
	RateLimit float64
}

// DefaultChainConfig returns a ChainConfig with default batching settings.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		BatchSize: 100,
		RateLimit: 20,
	}
}

// ChainProvider reads account state through JSON-RPC.
type ChainProvider struct {
	caller  ContractCaller
	batch   BatchCaller
	markets *MarketCache
	config  ChainConfig
	limiter *rate.Limiter
	block   *big.Int
	logger  *zap.Logger
}

// NewChainProvider creates a provider reading at the latest block.
func NewChainProvider(caller ContractCaller, batch BatchCaller, markets *MarketCache, config ChainConfig, logger *zap.Logger) *ChainProvider {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultChainConfig().BatchSize
	}
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	return &ChainProvider{
		caller:  caller,
		batch:   batch,
		markets: markets,
		config:  config,
		limiter: rate.NewLimiter(limit, config.BatchSize),
		logger:  logger,
	}
}

// AtBlock returns a provider whose account reads are pinned to block n.
// A nil n reads at the latest block. The market cache and limiter are shared.
func (p *ChainProvider) AtBlock(n *big.Int) *ChainProvider {
	c := *p
	c.block = n
	return &c
}

// Markets returns the market list, loading it through the cache.
func (p *ChainProvider) Markets(ctx context.Context) ([]Market, error) {
	return p.markets.Get(ctx, p.loadMarkets)
}

type feeRates struct {
	TakerFee                     *big.Int
	MakerFee                     *big.Int
	TakerFeeDelayedOrder         *big.Int
	MakerFeeDelayedOrder         *big.Int
	TakerFeeOffchainDelayedOrder *big.Int
	MakerFeeOffchainDelayedOrder *big.Int
}

type marketSummary struct {
	Market                 common.Address
	Asset                  [32]byte
	Key                    [32]byte
	MaxLeverage            *big.Int
	Price                  *big.Int
	MarketSize             *big.Int
	MarketSkew             *big.Int
	MarketDebt             *big.Int
	CurrentFundingRate     *big.Int
	CurrentFundingVelocity *big.Int
	FeeRates               feeRates
}

type positionInfo struct {
	Id               uint64
	LastFundingIndex uint64
	Margin           *big.Int
	LastPrice        *big.Int
	Size             *big.Int
}

type positionData struct {
	Position             positionInfo
	NotionalValue        *big.Int
	ProfitLoss           *big.Int
	AccruedFunding       *big.Int
	RemainingMargin      *big.Int
	AccessibleMargin     *big.Int
	LiquidationPrice     *big.Int
	CanLiquidatePosition bool
}

type conditionalOrder struct {
	MarketKey            [32]byte
	MarginDelta          *big.Int
	SizeDelta            *big.Int
	TargetPrice          *big.Int
	GelatoTaskId         [32]byte
	ConditionalOrderType uint8
	DesiredFillPrice     *big.Int
	ReduceOnly           bool
}

func (p *ChainProvider) loadMarkets(ctx context.Context) ([]Market, error) {
	// The market list is read at the latest block regardless of pinning.
	latest := p.AtBlock(nil)
	out, err := latest.call(ctx, contracts.PerpsV2MarketData, p.config.MarketData, "allProxiedMarketSummaries")
	if err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}
	var summaries []marketSummary
	if err := convert(out[0], &summaries); err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}

	markets := make([]Market, 0, len(summaries))
	for _, s := range summaries {
		markets = append(markets, Market{Address: s.Market, Key: s.Key, Asset: s.Asset})
	}
	p.logger.Debug("Loaded markets", zap.Int("count", len(markets)))
	return markets, nil
}

// Positions returns the account's position in every market. Markets whose
// read fails are skipped.
func (p *ChainProvider) Positions(ctx context.Context, account common.Address) ([]Position, error) {
	markets, err := p.Markets(ctx)
	if err != nil {
		return nil, err
	}

	argSets := make([][]interface{}, len(markets))
	for i, m := range markets {
		argSets[i] = []interface{}{m.Key, account}
	}
	results, errs, err := p.batchCall(ctx, contracts.PerpsV2MarketData, p.config.MarketData, "positionDetailsForMarketKey", argSets)
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	positions := make([]Position, 0, len(markets))
	for i, m := range markets {
		if errs[i] != nil {
			p.logger.Warn("Skipping market position",
				zap.String("market", KeyString(m.Key)),
				zap.Error(errs[i]))
			continue
		}
		var data positionData
		if err := convert(results[i][0], &data); err != nil {
			p.logger.Warn("Skipping market position",
				zap.String("market", KeyString(m.Key)),
				zap.Error(err))
			continue
		}
		positions = append(positions, Position{
			Market:           m,
			Size:             data.Position.Size,
			Margin:           data.Position.Margin,
			RemainingMargin:  data.RemainingMargin,
			AccessibleMargin: data.AccessibleMargin,
			Notional:         data.NotionalValue,
			PnL:              data.ProfitLoss,
			AccruedFunding:   data.AccruedFunding,
			LiquidationPrice: data.LiquidationPrice,
			CanLiquidate:     data.CanLiquidatePosition,
		})
	}
	return positions, nil
}

// Snapshot implements Provider.
func (p *ChainProvider) Snapshot(ctx context.Context, account common.Address) (*Snapshot, error) {
	var (
		positions []Position
		free      *big.Int
		wallet    = new(big.Int)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		positions, err = p.Positions(gctx, account)
		return err
	})
	g.Go(func() error {
		var err error
		free, err = p.uint256(gctx, contracts.SmartMarginAccount, account, "freeMargin")
		if err != nil {
			return fmt.Errorf("fetch free margin: %w", err)
		}
		return nil
	})
	if p.config.IncludeOwnerBalance {
		g.Go(func() error {
			var err error
			wallet, err = p.ownerBalance(gctx, account)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	idle := Idle(positions)
	total := new(big.Int).Add(free, idle.Total)
	total.Add(total, wallet)

	p.logger.Debug("Fetched snapshot",
		zap.String("account", account.Hex()),
		zap.Int("positions", len(positions)),
		zap.String("free_margin", free.String()),
		zap.String("idle_margin", idle.Total.String()),
		zap.String("total_balance", total.String()))

	return &Snapshot{
		Positions:    positions,
		Idle:         idle,
		TotalBalance: total,
		SmartBalance: free,
	}, nil
}

func (p *ChainProvider) ownerBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	owner, err := p.Owner(ctx, account)
	if err != nil {
		return nil, err
	}
	balance, err := p.uint256(ctx, contracts.ERC20, p.config.SUSD, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("fetch owner sUSD balance: %w", err)
	}
	return balance, nil
}

// ConditionalOrders implements Provider. It scans the most recent
// OrdersFetchSize ids and keeps the live orders.
func (p *ChainProvider) ConditionalOrders(ctx context.Context, account common.Address) ([]ConditionalOrder, error) {
	next, err := p.uint256(ctx, contracts.SmartMarginAccount, account, "conditionalOrderId")
	if err != nil {
		return nil, fmt.Errorf("fetch conditional order id: %w", err)
	}
	start, n := orderWindow(next)
	if n == 0 {
		return nil, nil
	}

	argSets := make([][]interface{}, n)
	for i := range argSets {
		argSets[i] = []interface{}{new(big.Int).Add(start, big.NewInt(int64(i)))}
	}
	results, errs, err := p.batchCall(ctx, contracts.SmartMarginAccount, account, "getConditionalOrder", argSets)
	if err != nil {
		return nil, fmt.Errorf("fetch conditional orders: %w", err)
	}

	var orders []ConditionalOrder
	for i := range argSets {
		if errs[i] != nil {
			return nil, fmt.Errorf("fetch conditional order %s: %w", argSets[i][0], errs[i])
		}
		var raw conditionalOrder
		if err := convert(results[i][0], &raw); err != nil {
			return nil, fmt.Errorf("decode conditional order %s: %w", argSets[i][0], err)
		}
		order := ConditionalOrder{
			Index:            argSets[i][0].(*big.Int),
			MarketKey:        raw.MarketKey,
			MarginDelta:      raw.MarginDelta,
			SizeDelta:        raw.SizeDelta,
			TargetPrice:      raw.TargetPrice,
			GelatoTaskID:     raw.GelatoTaskId,
			Type:             OrderType(raw.ConditionalOrderType),
			DesiredFillPrice: raw.DesiredFillPrice,
			ReduceOnly:       raw.ReduceOnly,
		}
		if order.Live() {
			orders = append(orders, order)
		}
	}

	p.logger.Debug("Fetched conditional orders",
		zap.String("account", account.Hex()),
		zap.Int("scanned", n),
		zap.Int("live", len(orders)))
	return orders, nil
}

// orderWindow returns the first id and the number of ids to scan below next.
func orderWindow(next *big.Int) (*big.Int, int) {
	if next == nil || next.Sign() <= 0 {
		return new(big.Int), 0
	}
	if next.Cmp(big.NewInt(OrdersFetchSize)) <= 0 {
		return new(big.Int), int(next.Int64())
	}
	return new(big.Int).Sub(next, big.NewInt(OrdersFetchSize)), OrdersFetchSize
}

func (p *ChainProvider) uint256(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	out, err := p.call(ctx, contract, to, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", method, out[0])
	}
	return v, nil
}

func (p *ChainProvider) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	raw, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, p.block)
	if err != nil {
		return nil, err
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

// batchCall issues one eth_call per argument set, split into batches of
// BatchSize. Per-call failures are returned in errs; err is set only when a
// whole batch could not be sent.
func (p *ChainProvider) batchCall(ctx context.Context, contract abi.ABI, to common.Address, method string, argSets [][]interface{}) ([][]interface{}, []error, error) {
	results := make([][]interface{}, len(argSets))
	errs := make([]error, len(argSets))
	raw := make([]hexutil.Bytes, len(argSets))
	block := blockArg(p.block)

	for start := 0; start < len(argSets); start += p.config.BatchSize {
		end := min(start+p.config.BatchSize, len(argSets))
		elems := make([]rpc.BatchElem, 0, end-start)
		for i := start; i < end; i++ {
			data, err := contract.Pack(method, argSets[i]...)
			if err != nil {
				return nil, nil, err
			}
			elems = append(elems, rpc.BatchElem{
				Method: "eth_call",
				Args: []interface{}{
					map[string]interface{}{"to": to, "data": hexutil.Bytes(data)},
					block,
				},
				Result: &raw[i],
			})
		}

		if err := p.limiter.WaitN(ctx, len(elems)); err != nil {
			return nil, nil, err
		}
		if err := p.batch.BatchCallContext(ctx, elems); err != nil {
			return nil, nil, err
		}

		for j, elem := range elems {
			i := start + j
			if elem.Error != nil {
				errs[i] = elem.Error
				continue
			}
			out, err := contract.Unpack(method, raw[i])
			if err != nil {
				errs[i] = err
				continue
			}
			if len(out) == 0 {
				errs[i] = errors.New("empty result")
				continue
			}
			results[i] = out
		}
	}
	return results, errs, nil
}

func blockArg(n *big.Int) string {
	if n == nil {
		return "latest"
	}
	return hexutil.EncodeBig(n)
}

// convert copies an anonymous ABI tuple value into a named struct with the
// same field layout.
func convert(in, out interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("convert %T: %v", in, r)
		}
	}()
	abi.ConvertType(in, out)
	return nil
}
