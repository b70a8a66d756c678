package execution

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

var source = common.HexToHash("0x01")

type fakeContract struct {
	mu     sync.Mutex
	calls  int
	method string
	params []interface{}
	err    error
}

func (f *fakeContract) Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.method = method
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return types.NewTx(&types.LegacyTx{Nonce: uint64(f.calls), Gas: 21000, GasPrice: big.NewInt(1)}), nil
}

func minedWith(status uint64) waitFunc {
	return func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return &types.Receipt{Status: status, BlockNumber: big.NewInt(42), GasUsed: 51000, TxHash: tx.Hash()}, nil
	}
}

func testEngine(t *testing.T, config *Config, contract transactor, wait waitFunc) *Engine {
	t.Helper()
	key, err := ParsePrivateKey(testKey)
	require.NoError(t, err)
	return newEngine(config, key, contract, wait, zap.NewNop())
}

func TestParsePrivateKey(t *testing.T) {
	key, err := ParsePrivateKey("0x" + testKey)
	require.NoError(t, err)
	same, err := ParsePrivateKey(testKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(same.PublicKey))

	_, err = ParsePrivateKey("")
	assert.Error(t, err)
	_, err = ParsePrivateKey("zz")
	assert.Error(t, err)
	_, err = ParsePrivateKey("0x1234")
	assert.Error(t, err)
}

func TestSubmitMined(t *testing.T) {
	contract := &fakeContract{}
	e := testEngine(t, DefaultConfig(), contract, minedWith(types.ReceiptStatusSuccessful))

	codes := []uint8{2, 6}
	inputs := [][]byte{{0x01}, {0x02}}
	sub, err := e.Submit(context.Background(), source, codes, inputs)
	require.NoError(t, err)

	assert.Equal(t, "execute", contract.method)
	assert.Equal(t, []interface{}{codes, inputs}, contract.params)
	assert.Equal(t, StatusMined, sub.Status)
	assert.Equal(t, uint64(42), sub.Block)
	assert.Equal(t, uint64(51000), sub.GasUsed)
	assert.Equal(t, source, sub.Source)
	assert.NotEqual(t, common.Hash{}, sub.TxHash)

	stats := e.GetExecutionStats()
	assert.Equal(t, uint64(1), stats.Submitted)
	assert.Equal(t, uint64(1), stats.Mined)
	assert.Len(t, e.Submissions().History(0), 1)
}

func TestSubmitReverted(t *testing.T) {
	e := testEngine(t, DefaultConfig(), &fakeContract{}, minedWith(types.ReceiptStatusFailed))

	sub, err := e.Submit(context.Background(), source, []uint8{2}, [][]byte{{0x01}})
	assert.ErrorIs(t, err, ErrReverted)
	require.NotNil(t, sub)
	assert.Equal(t, StatusReverted, sub.Status)
	assert.Equal(t, uint64(1), e.GetExecutionStats().Reverted)
}

func TestSubmitSendFailure(t *testing.T) {
	e := testEngine(t, DefaultConfig(), &fakeContract{err: errors.New("nonce too low")}, minedWith(1))

	sub, err := e.Submit(context.Background(), source, []uint8{2}, [][]byte{{0x01}})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, sub.Status)
	assert.Equal(t, "nonce too low", sub.Error)
	assert.Empty(t, e.Submissions().Pending())
}

func TestSubmitDryRunDoesNotSend(t *testing.T) {
	config := DefaultConfig()
	config.DryRun = true
	contract := &fakeContract{}
	e := testEngine(t, config, contract, minedWith(1))

	sub, err := e.Submit(context.Background(), source, []uint8{3}, [][]byte{make([]byte, 32)})
	require.NoError(t, err)
	assert.Equal(t, StatusDryRun, sub.Status)
	assert.Zero(t, contract.calls)
}

func TestSubmitSingleInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	wait := func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		once.Do(func() { close(started) })
		<-release
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}, nil
	}
	contract := &fakeContract{}
	e := testEngine(t, DefaultConfig(), contract, wait)

	done := make(chan error, 1)
	go func() {
		_, err := e.Submit(context.Background(), source, []uint8{2}, [][]byte{{0x01}})
		done <- err
	}()

	<-started
	assert.Len(t, e.Submissions().Pending(), 1)
	_, err := e.Submit(context.Background(), source, []uint8{2}, [][]byte{{0x01}})
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("first submission did not finish")
	}

	_, err = e.Submit(context.Background(), source, []uint8{2}, [][]byte{{0x01}})
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), e.GetExecutionStats().Rejected)
	assert.Equal(t, 2, contract.calls)
}

func TestSubmitWaitTimeout(t *testing.T) {
	config := DefaultConfig()
	config.Timeout = 10 * time.Millisecond
	wait := func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	e := testEngine(t, config, &fakeContract{}, wait)

	sub, err := e.Submit(context.Background(), source, []uint8{2}, [][]byte{{0x01}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusFailed, sub.Status)
}

func TestSubmissionHistoryNewestFirst(t *testing.T) {
	sm := NewSubmissionManager()
	base := time.Unix(100, 0)
	for i := 0; i < 3; i++ {
		sm.Add(&Submission{ID: [16]byte{byte(i + 1)}, Status: StatusMined, SubmittedAt: base.Add(time.Duration(i) * time.Second)})
	}

	history := sm.History(2)
	require.Len(t, history, 2)
	assert.Equal(t, byte(3), history[0].ID[0])
	assert.Equal(t, byte(2), history[1].ID[0])
	assert.Nil(t, sm.Get([16]byte{9}))
}
