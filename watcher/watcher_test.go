package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	account = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	other   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

type fakeReader struct {
	mu     sync.Mutex
	head   uint64
	blocks map[uint64]*Block
	fail   map[uint64]bool
	reads  []uint64
}

func newFakeReader(head uint64) *fakeReader {
	return &fakeReader{head: head, blocks: map[uint64]*Block{}, fail: map[uint64]bool{}}
}

func (f *fakeReader) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeReader) BlockByNumber(ctx context.Context, n uint64) (*Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, n)
	if f.fail[n] {
		return nil, errors.New("header not found")
	}
	if b, ok := f.blocks[n]; ok {
		return b, nil
	}
	return &Block{Number: hexutil.Uint64(n)}, nil
}

func (f *fakeReader) addBlock(n uint64, to ...common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	txs := make([]RPCTransaction, len(to))
	for i, addr := range to {
		addr := addr
		txs[i] = RPCTransaction{
			Hash:  common.BigToHash(new(big.Int).SetUint64(n*100 + uint64(i))),
			To:    &addr,
			Input: []byte{byte(i)},
		}
	}
	// a contract creation has no recipient
	txs = append(txs, RPCTransaction{Hash: common.HexToHash("0xc0ffee")})
	f.blocks[n] = &Block{Number: hexutil.Uint64(n), Transactions: txs}
}

type recorder struct {
	mu  sync.Mutex
	txs []Transaction
}

func (r *recorder) record(ctx context.Context, tx Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, tx)
}

func (r *recorder) seen() []Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transaction(nil), r.txs...)
}

func newTestWatcher(reader ChainReader, config Config) *blockWatcher {
	w := New(config, reader, zap.NewNop()).(*blockWatcher)
	w.Watch(account)
	return w
}

func TestPollReportsWatchedTransactionsInOrder(t *testing.T) {
	reader := newFakeReader(12)
	reader.addBlock(11, other, account, account)
	reader.addBlock(12, account)

	w := newTestWatcher(reader, Config{StartBlock: 11})
	rec := &recorder{}
	w.SetTxCallback(rec.record)
	w.updateStatus(func(s *Status) { s.LastBlock = 10 })

	require.NoError(t, w.poll(context.Background()))

	txs := rec.seen()
	require.Len(t, txs, 3)
	assert.Equal(t, uint64(11), txs[0].Block)
	assert.Equal(t, 1, txs[0].Index)
	assert.Equal(t, 2, txs[1].Index)
	assert.Equal(t, uint64(12), txs[2].Block)
	for _, tx := range txs {
		assert.Equal(t, account, tx.To)
	}
	assert.Equal(t, []byte{1}, txs[0].Data)

	status := w.GetStatus()
	assert.Equal(t, uint64(12), status.LastBlock)
	assert.Equal(t, uint64(2), status.BlockCount)
	assert.Equal(t, uint64(3), status.TxCount)
}

func TestPollRetriesFailedBlock(t *testing.T) {
	reader := newFakeReader(3)
	reader.addBlock(2, account)
	reader.addBlock(3, account)
	reader.fail[2] = true

	w := newTestWatcher(reader, Config{})
	rec := &recorder{}
	w.SetTxCallback(rec.record)
	w.updateStatus(func(s *Status) { s.LastBlock = 1 })

	assert.Error(t, w.poll(context.Background()))
	assert.Empty(t, rec.seen())
	assert.Equal(t, uint64(1), w.GetStatus().LastBlock)

	reader.mu.Lock()
	delete(reader.fail, 2)
	reader.mu.Unlock()

	require.NoError(t, w.poll(context.Background()))
	txs := rec.seen()
	require.Len(t, txs, 2)
	assert.Equal(t, uint64(2), txs[0].Block)
	assert.Equal(t, uint64(3), txs[1].Block)
}

func TestPollCapsBlocksPerPoll(t *testing.T) {
	reader := newFakeReader(10)
	w := newTestWatcher(reader, Config{MaxBlocksPerPoll: 4})
	w.updateStatus(func(s *Status) { s.LastBlock = 0 })

	require.NoError(t, w.poll(context.Background()))
	assert.Equal(t, uint64(4), w.GetStatus().LastBlock)

	require.NoError(t, w.poll(context.Background()))
	assert.Equal(t, uint64(8), w.GetStatus().LastBlock)
}

func TestStartFromHeadAndStop(t *testing.T) {
	reader := newFakeReader(100)
	w := newTestWatcher(reader, Config{PollInterval: 5 * time.Millisecond})
	rec := &recorder{}
	w.SetTxCallback(rec.record)

	require.NoError(t, w.Start())
	assert.True(t, w.GetStatus().IsRunning)
	assert.Equal(t, uint64(100), w.GetStatus().LastBlock)

	reader.addBlock(101, account)
	reader.mu.Lock()
	reader.head = 101
	reader.mu.Unlock()

	assert.Eventually(t, func() bool { return len(rec.seen()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())
	assert.False(t, w.GetStatus().IsRunning)
}

func TestStartAtConfiguredBlock(t *testing.T) {
	reader := newFakeReader(100)
	w := newTestWatcher(reader, Config{StartBlock: 90, PollInterval: time.Hour})

	require.NoError(t, w.Start())
	defer w.Stop()
	assert.Equal(t, uint64(89), w.GetStatus().LastBlock)
}

type fakeRPC struct {
	responses map[string]string
	calls     [][]interface{}
}

func (f *fakeRPC) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	f.calls = append(f.calls, append([]interface{}{method}, args...))
	resp, ok := f.responses[method]
	if !ok {
		return errors.New("method not found")
	}
	return json.Unmarshal([]byte(resp), result)
}

func TestRPCReaderDecodesDepositTransactions(t *testing.T) {
	rpc := &fakeRPC{responses: map[string]string{
		"eth_blockNumber": `"0x7b"`,
		"eth_getBlockByNumber": `{
			"number": "0x7b",
			"transactions": [
				{"type": "0x7e", "hash": "0x0000000000000000000000000000000000000000000000000000000000000001", "to": "0x4200000000000000000000000000000000000015", "input": "0x015d8eb9", "sourceHash": "0x0000000000000000000000000000000000000000000000000000000000000002"},
				{"type": "0x2", "hash": "0x0000000000000000000000000000000000000000000000000000000000000003", "to": "0x00000000000000000000000000000000000000aa", "input": "0xdeadbeef"},
				{"type": "0x2", "hash": "0x0000000000000000000000000000000000000000000000000000000000000004", "to": null, "input": "0x60806040"}
			]
		}`,
	}}
	reader := NewRPCReader(rpc)

	head, err := reader.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(123), head)

	block, err := reader.BlockByNumber(context.Background(), 123)
	require.NoError(t, err)
	require.Len(t, block.Transactions, 3)
	assert.Equal(t, account, *block.Transactions[1].To)
	assert.Equal(t, hexutil.Bytes{0xde, 0xad, 0xbe, 0xef}, block.Transactions[1].Input)
	assert.Nil(t, block.Transactions[2].To)
	assert.Equal(t, []interface{}{"eth_getBlockByNumber", "0x7b", true}, rpc.calls[1])
}

func TestRPCReaderMissingBlock(t *testing.T) {
	reader := NewRPCReader(&fakeRPC{responses: map[string]string{"eth_getBlockByNumber": "null"}})

	_, err := reader.BlockByNumber(context.Background(), 5)
	assert.ErrorIs(t, err, ErrBlockNotFound)
}
