package execdata

import (
	"errors"
	"math/big"
	"testing"

	"margin-repeater/commands"
	"margin-repeater/contracts"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var market = common.HexToAddress("0x2B3bb4c683BFc5239B029131EEf3B1d214478d93")

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func sampleOps() []Operation {
	return []Operation{
		NewOperation(&commands.AccountModifyMarginArgs{Amount: ether(-5)}),
		NewOperation(&commands.AccountWithdrawEthArgs{Amount: ether(1)}),
		NewOperation(&commands.ModifyMarginArgs{Market: market, Amount: ether(100)}),
		NewOperation(&commands.WithdrawAllMarginArgs{Market: market}),
		NewOperation(&commands.SubmitAtomicOrderArgs{Market: market, SizeDelta: ether(-2), DesiredFillPrice: ether(1800)}),
		NewOperation(&commands.SubmitDelayedOrderArgs{Market: market, SizeDelta: ether(3), DesiredTimeDelta: big.NewInt(60), DesiredFillPrice: ether(1810)}),
		NewOperation(&commands.SubmitOffchainDelayedOrderArgs{Market: market, SizeDelta: ether(4), DesiredFillPrice: ether(1820)}),
		NewOperation(&commands.ClosePositionArgs{Market: market, DesiredFillPrice: ether(1700)}),
		NewOperation(&commands.SubmitCloseDelayedOrderArgs{Market: market, DesiredTimeDelta: big.NewInt(30), DesiredFillPrice: ether(1710)}),
		NewOperation(&commands.SubmitCloseOffchainDelayedOrderArgs{Market: market, DesiredFillPrice: ether(1720)}),
		NewOperation(&commands.CancelDelayedOrderArgs{Market: market}),
		NewOperation(&commands.CancelOffchainDelayedOrderArgs{Market: market}),
		NewOperation(&commands.PlaceConditionalOrderArgs{
			MarketKey:            [32]byte{'s', 'B', 'T', 'C'},
			MarginDelta:          ether(1),
			SizeDelta:            ether(-1),
			TargetPrice:          ether(30000),
			ConditionalOrderType: 0,
			DesiredFillPrice:     ether(29900),
			ReduceOnly:           true,
		}),
		NewOperation(&commands.CancelConditionalOrderArgs{OrderID: big.NewInt(11)}),
	}
}

func TestNewOperationNamesCommand(t *testing.T) {
	for i, op := range sampleOps() {
		cmd, ok := commands.ByCode(commands.Code(i))
		require.True(t, ok)
		assert.Equal(t, cmd.Name, op.Command)
	}
}

func TestRoundTripEveryReplayableCommand(t *testing.T) {
	for _, op := range sampleOps()[2:] {
		codes, blobs, err := Encode([]Operation{op})
		require.NoError(t, err, op.Command)
		require.Len(t, codes, 1)

		decoded, err := Decode(codes, blobs)
		require.NoError(t, err, op.Command)
		require.Len(t, decoded, 1)
		assert.Equal(t, op.Command, decoded[0].Command)
		assert.IsType(t, op.Args, decoded[0].Args)

		// A second encode of the decoded operation must be byte identical.
		codes2, blobs2, err := Encode(decoded)
		require.NoError(t, err)
		assert.Equal(t, codes, codes2)
		assert.Equal(t, blobs, blobs2)
	}
}

func TestDecodeTypedFields(t *testing.T) {
	op := NewOperation(&commands.SubmitDelayedOrderArgs{
		Market: market, SizeDelta: ether(-3), DesiredTimeDelta: big.NewInt(60), DesiredFillPrice: ether(1810),
	})
	codes, blobs, err := Encode([]Operation{op})
	require.NoError(t, err)

	decoded, err := Decode(codes, blobs)
	require.NoError(t, err)
	args := decoded[0].Args.(*commands.SubmitDelayedOrderArgs)
	assert.Equal(t, market, args.Market)
	assert.Zero(t, ether(-3).Cmp(args.SizeDelta))
	assert.Equal(t, int64(60), args.DesiredTimeDelta.Int64())
	assert.Zero(t, ether(1810).Cmp(args.DesiredFillPrice))
}

func TestEncodeDropsOwnerOnlyCommands(t *testing.T) {
	codes, blobs, err := Encode(sampleOps())
	require.NoError(t, err)
	require.Len(t, codes, 12)
	require.Len(t, blobs, 12)
	for _, code := range codes {
		assert.GreaterOrEqual(t, code, uint8(2))
	}
	assert.Equal(t, uint8(commands.CodeModifyMargin), codes[0])
}

func TestEncodeOnlyOwnerCommands(t *testing.T) {
	codes, blobs, err := Encode(sampleOps()[:2])
	require.NoError(t, err)
	assert.Empty(t, codes)
	assert.Empty(t, blobs)
}

func TestEncodeEmpty(t *testing.T) {
	codes, blobs, err := Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, codes)
	assert.Empty(t, blobs)
}

func TestEncodeUnknownCommand(t *testing.T) {
	_, _, err := Encode([]Operation{{Command: "NOPE", Args: &commands.WithdrawAllMarginArgs{}}})
	assert.Error(t, err)
}

func TestDecodeUnknownCode(t *testing.T) {
	_, err := Decode([]uint8{2, 42}, [][]byte{nil, nil})
	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	// index 0 fails first because its blob is empty
	assert.Equal(t, 0, decErr.Index)

	codes, blobs, err := Encode(sampleOps()[3:4])
	require.NoError(t, err)
	_, err = Decode([]uint8{codes[0], 42}, [][]byte{blobs[0], blobs[0]})
	require.True(t, errors.As(err, &decErr))
	assert.Equal(t, 1, decErr.Index)
	assert.Equal(t, uint8(42), decErr.Code)
}

func TestDecodeLengthMismatch(t *testing.T) {
	_, err := Decode([]uint8{2, 3}, [][]byte{{}})
	var decErr *DecodeError
	assert.True(t, errors.As(err, &decErr))
}

func TestDecodeSchemaMismatch(t *testing.T) {
	_, blobs, err := Encode(sampleOps()[3:4]) // withdraw-all-margin: one word
	require.NoError(t, err)
	_, err = Decode([]uint8{uint8(commands.CodeSubmitDelayedOrder)}, blobs)
	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.Equal(t, uint8(commands.CodeSubmitDelayedOrder), decErr.Code)
}

func TestExecuteCalldataRoundTrip(t *testing.T) {
	codes, blobs, err := Encode(sampleOps())
	require.NoError(t, err)

	calldata, err := PackExecute(codes, blobs)
	require.NoError(t, err)

	gotCodes, gotBlobs, err := UnpackExecute(calldata)
	require.NoError(t, err)
	assert.Equal(t, codes, gotCodes)
	assert.Equal(t, blobs, gotBlobs)
}

func TestUnpackExecuteRejectsOtherMethods(t *testing.T) {
	calldata, err := contracts.SmartMarginAccount.Pack("freeMargin")
	require.NoError(t, err)
	_, _, err = UnpackExecute(calldata)
	assert.ErrorIs(t, err, ErrNotExecute)

	_, _, err = UnpackExecute([]byte{0x01})
	assert.ErrorIs(t, err, ErrNotExecute)
}
