// Package contracts holds the ABI fragments of the Kwenta smart margin and
// Synthetix PerpsV2 contracts the repeater reads from and writes to.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const smartMarginAccountJSON = `[
  {"type":"function","name":"execute","stateMutability":"payable",
   "inputs":[
     {"name":"_commands","type":"uint8[]","internalType":"enum IAccount.Command[]"},
     {"name":"_inputs","type":"bytes[]","internalType":"bytes[]"}],
   "outputs":[]},
  {"type":"function","name":"freeMargin","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"owner","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"delegates","stateMutability":"view",
   "inputs":[{"name":"delegate","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"conditionalOrderId","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getConditionalOrder","stateMutability":"view",
   "inputs":[{"name":"_conditionalOrderId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","internalType":"struct IAccount.ConditionalOrder","components":[
     {"name":"marketKey","type":"bytes32"},
     {"name":"marginDelta","type":"int256"},
     {"name":"sizeDelta","type":"int256"},
     {"name":"targetPrice","type":"uint256"},
     {"name":"gelatoTaskId","type":"bytes32"},
     {"name":"conditionalOrderType","type":"uint8","internalType":"enum IAccount.ConditionalOrderTypes"},
     {"name":"desiredFillPrice","type":"uint256"},
     {"name":"reduceOnly","type":"bool"}]}]}
]`

const smartMarginFactoryJSON = `[
  {"type":"function","name":"getAccountsOwnedBy","stateMutability":"view",
   "inputs":[{"name":"_owner","type":"address"}],
   "outputs":[{"name":"","type":"address[]"}]}
]`

const perpsV2MarketDataJSON = `[
  {"type":"function","name":"allProxiedMarketSummaries","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"tuple[]","internalType":"struct PerpsV2MarketData.MarketSummary[]","components":[
     {"name":"market","type":"address"},
     {"name":"asset","type":"bytes32"},
     {"name":"key","type":"bytes32"},
     {"name":"maxLeverage","type":"uint256"},
     {"name":"price","type":"uint256"},
     {"name":"marketSize","type":"uint256"},
     {"name":"marketSkew","type":"int256"},
     {"name":"marketDebt","type":"uint256"},
     {"name":"currentFundingRate","type":"int256"},
     {"name":"currentFundingVelocity","type":"int256"},
     {"name":"feeRates","type":"tuple","internalType":"struct PerpsV2MarketData.FeeRates","components":[
       {"name":"takerFee","type":"uint256"},
       {"name":"makerFee","type":"uint256"},
       {"name":"takerFeeDelayedOrder","type":"uint256"},
       {"name":"makerFeeDelayedOrder","type":"uint256"},
       {"name":"takerFeeOffchainDelayedOrder","type":"uint256"},
       {"name":"makerFeeOffchainDelayedOrder","type":"uint256"}]}]}]},
  {"type":"function","name":"positionDetailsForMarketKey","stateMutability":"view",
   "inputs":[{"name":"marketKey","type":"bytes32"},{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"tuple","internalType":"struct PerpsV2MarketData.PositionData","components":[
     {"name":"position","type":"tuple","internalType":"struct IPerpsV2MarketBaseTypes.Position","components":[
       {"name":"id","type":"uint64"},
       {"name":"lastFundingIndex","type":"uint64"},
       {"name":"margin","type":"uint128"},
       {"name":"lastPrice","type":"uint128"},
       {"name":"size","type":"int128"}]},
     {"name":"notionalValue","type":"int256"},
     {"name":"profitLoss","type":"int256"},
     {"name":"accruedFunding","type":"int256"},
     {"name":"remainingMargin","type":"uint256"},
     {"name":"accessibleMargin","type":"uint256"},
     {"name":"liquidationPrice","type":"uint256"},
     {"name":"canLiquidatePosition","type":"bool"}]}]}
]`

const erc20JSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	SmartMarginAccount = mustParse(smartMarginAccountJSON)
	SmartMarginFactory = mustParse(smartMarginFactoryJSON)
	PerpsV2MarketData  = mustParse(perpsV2MarketDataJSON)
	ERC20              = mustParse(erc20JSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("contracts: " + err.Error())
	}
	return parsed
}
