package commands

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableIsIndexedByCode(t *testing.T) {
	all := All()
	require.Len(t, all, 14)
	for i, cmd := range all {
		assert.Equal(t, Code(i), cmd.Code)
		byName, ok := ByName(cmd.Name)
		require.True(t, ok, cmd.Name)
		assert.Equal(t, cmd.Code, byName.Code)
		assert.NotEmpty(t, cmd.Arguments())
	}
}

func TestOwnerOnlyCommands(t *testing.T) {
	for _, cmd := range All() {
		assert.Equal(t, cmd.Code < 2, cmd.OwnerOnly(), cmd.Name)
	}
}

func TestByCodeUnknown(t *testing.T) {
	_, ok := ByCode(14)
	assert.False(t, ok)
	_, ok = ByName("PERPS_V3_SOMETHING")
	assert.False(t, ok)
}

func TestParseSchema(t *testing.T) {
	args, err := ParseSchema("address market, int256 sizeDelta, uint256 desiredFillPrice")
	require.NoError(t, err)
	require.Len(t, args, 3)
	assert.Equal(t, "market", args[0].Name)
	assert.Equal(t, "int256", args[1].Type.String())

	_, err = ParseSchema("address")
	assert.Error(t, err)
	_, err = ParseSchema("float amount")
	assert.Error(t, err)
}

func TestNameClassification(t *testing.T) {
	assert.True(t, SubmitOffchainDelayedOrder.IsOpen())
	assert.True(t, SubmitCloseDelayedOrder.IsClose())
	assert.True(t, ClosePosition.IsMarket())
	assert.False(t, ModifyMargin.IsMarket())
	assert.False(t, CancelDelayedOrder.IsMarket())
	assert.True(t, CancelConditionalOrder.IsConditional())
}

func TestPackUnpackPlaceConditionalOrder(t *testing.T) {
	cmd, _ := ByCode(CodePlaceConditionalOrder)
	in := &PlaceConditionalOrderArgs{
		MarketKey:            [32]byte{'s', 'E', 'T', 'H'},
		MarginDelta:          big.NewInt(-7),
		SizeDelta:            big.NewInt(42),
		TargetPrice:          big.NewInt(1800),
		ConditionalOrderType: 1,
		DesiredFillPrice:     big.NewInt(1790),
		ReduceOnly:           true,
	}
	blob, err := cmd.Pack(in)
	require.NoError(t, err)

	out, err := cmd.Unpack(blob)
	require.NoError(t, err)
	got, ok := out.(*PlaceConditionalOrderArgs)
	require.True(t, ok)
	assert.Equal(t, in.MarketKey, got.MarketKey)
	assert.Zero(t, in.MarginDelta.Cmp(got.MarginDelta))
	assert.Zero(t, in.SizeDelta.Cmp(got.SizeDelta))
	assert.Zero(t, in.TargetPrice.Cmp(got.TargetPrice))
	assert.Equal(t, uint8(1), got.ConditionalOrderType)
	assert.Zero(t, in.DesiredFillPrice.Cmp(got.DesiredFillPrice))
	assert.True(t, got.ReduceOnly)
}

func TestPackRejectsForeignArgs(t *testing.T) {
	cmd, _ := ByCode(CodeModifyMargin)
	_, err := cmd.Pack(&WithdrawAllMarginArgs{Market: common.HexToAddress("0x1")})
	assert.Error(t, err)
	_, err = cmd.Pack(nil)
	assert.Error(t, err)
}

func TestWithSizeCopies(t *testing.T) {
	orig := &SubmitDelayedOrderArgs{
		Market:           common.HexToAddress("0xabc"),
		SizeDelta:        big.NewInt(10),
		DesiredTimeDelta: big.NewInt(60),
		DesiredFillPrice: big.NewInt(2000),
	}
	resized := orig.WithSize(big.NewInt(-3))
	assert.Equal(t, int64(10), orig.SizeDelta.Int64())
	assert.Equal(t, int64(-3), resized.Size().Int64())
	assert.Equal(t, orig.Market, resized.MarketAddress())
	assert.Equal(t, orig.DesiredTimeDelta, resized.(*SubmitDelayedOrderArgs).DesiredTimeDelta)
}
