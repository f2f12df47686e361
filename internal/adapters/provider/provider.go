// Package provider implements ports.Provider and contracts.CallerProvider
// against a real execution-layer node via go-ethereum's ethclient, the same
// client package the teacher used on the consensus side through attestant's
// http.Service (internal/adapters/attestantclient_adapter.go) for the
// beacon chain.
package provider

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/p2p-org/lido-council-daemon/internal/domain"
)

// depositEventABIJSON is the official deposit contract's DepositEvent, per
// spec §6: four non-indexed byte strings plus an 8-byte little-endian
// index, all ABI-encoded as dynamic bytes.
const depositEventABIJSON = `[
	{"type":"event","name":"DepositEvent","anonymous":false,"inputs":[
		{"name":"pubkey","type":"bytes","indexed":false},
		{"name":"withdrawal_credentials","type":"bytes","indexed":false},
		{"name":"amount","type":"bytes","indexed":false},
		{"name":"signature","type":"bytes","indexed":false},
		{"name":"index","type":"bytes","indexed":false}
	]}
]`

// Client wraps ethclient.Client to satisfy both ports.Provider (the
// orchestrator's view of the chain) and contracts.CallerProvider (the
// guardian probe's narrower eth_call-only view).
type Client struct {
	rpc             *ethclient.Client
	depositContract common.Address
	depositEventID  common.Hash
	depositABI      abi.ABI
}

// New dials the given EL JSON-RPC endpoint and prepares the deposit event
// decoder.
func New(ctx context.Context, rpcURL string, depositContract common.Address) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", domain.ErrTransient, rpcURL, err)
	}
	depositABI, err := abi.JSON(strings.NewReader(depositEventABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing deposit event ABI: %w", err)
	}
	return &Client{
		rpc:             rpc,
		depositContract: depositContract,
		depositEventID:  depositABI.Events["DepositEvent"].ID,
		depositABI:      depositABI,
	}, nil
}

// HeadBlockNumber implements ports.Provider.
func (c *Client) HeadBlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: eth_blockNumber: %v", domain.ErrTransient, err)
	}
	return n, nil
}

// BlockRefByNumber implements ports.Provider.
func (c *Client) BlockRefByNumber(ctx context.Context, number uint64) (domain.BlockRef, error) {
	header, err := c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return domain.BlockRef{}, fmt.Errorf("%w: eth_getBlockByNumber(%d): %v", domain.ErrTransient, number, err)
	}
	return domain.BlockRef{
		Number:    header.Number.Uint64(),
		Hash:      header.Hash(),
		Timestamp: header.Time,
	}, nil
}

// DepositLogs implements ports.Provider. The range is half-open [fromBlock,
// toBlock), matching the cache's segment convention, so the eth_getLogs
// query itself uses an inclusive toBlock-1.
func (c *Client) DepositLogs(ctx context.Context, fromBlock, toBlock uint64) ([]domain.DepositEvent, error) {
	if toBlock <= fromBlock {
		return nil, nil
	}
	logs, err := c.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock - 1),
		Addresses: []common.Address{c.depositContract},
		Topics:    [][]common.Hash{{c.depositEventID}},
	})
	if err != nil {
		if isRangeTooLarge(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrRangeTooLarge, err)
		}
		return nil, fmt.Errorf("%w: eth_getLogs[%d,%d): %v", domain.ErrTransient, fromBlock, toBlock, err)
	}

	events := make([]domain.DepositEvent, 0, len(logs))
	for _, l := range logs {
		event, err := c.decodeDepositLog(l)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding deposit log at block %d log %d: %v",
				domain.ErrInconsistent, l.BlockNumber, l.Index, err)
		}
		events = append(events, event)
	}
	return events, nil
}

func (c *Client) decodeDepositLog(l types.Log) (domain.DepositEvent, error) {
	vals, err := c.depositABI.Unpack("DepositEvent", l.Data)
	if err != nil {
		return domain.DepositEvent{}, err
	}
	pubkey, ok := vals[0].([]byte)
	if !ok || len(pubkey) != 48 {
		return domain.DepositEvent{}, fmt.Errorf("unexpected pubkey field: %v", vals[0])
	}
	wc, ok := vals[1].([]byte)
	if !ok || len(wc) != 32 {
		return domain.DepositEvent{}, fmt.Errorf("unexpected withdrawal_credentials field: %v", vals[1])
	}
	amount, ok := vals[2].([]byte)
	if !ok || len(amount) != 8 {
		return domain.DepositEvent{}, fmt.Errorf("unexpected amount field: %v", vals[2])
	}
	signature, ok := vals[3].([]byte)
	if !ok || len(signature) != 96 {
		return domain.DepositEvent{}, fmt.Errorf("unexpected signature field: %v", vals[3])
	}

	var event domain.DepositEvent
	copy(event.Pubkey[:], pubkey)
	copy(event.WC[:], wc)
	copy(event.Signature[:], signature)
	event.AmountGwei = binaryLittleEndianUint64(amount)
	event.LogIndex = uint32(l.Index)
	event.TxHash = l.TxHash
	event.Block = domain.BlockRef{Number: l.BlockNumber, Hash: l.BlockHash}
	return event, nil
}

// binaryLittleEndianUint64 decodes one of the deposit contract's
// little-endian 8-byte fields (amount and index), where the deposit
// contract departs from the EVM's usual big-endian word packing.
func binaryLittleEndianUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

// PendingNonce implements ports.Provider, the account nonce the pause
// submitter's next transaction must use.
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	nonce, err := c.rpc.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("%w: eth_getTransactionCount(pending): %v", domain.ErrTransient, err)
	}
	return nonce, nil
}

// SuggestGasPrice implements ports.Provider.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: eth_gasPrice: %v", domain.ErrTransient, err)
	}
	return price, nil
}

// CallContract implements contracts.CallerProvider. atBlock of 0 means
// "latest".
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte, atBlock uint64) ([]byte, error) {
	var blockNumber *big.Int
	if atBlock != 0 {
		blockNumber = new(big.Int).SetUint64(atBlock)
	}
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: eth_call to %s: %v", domain.ErrTransient, to.Hex(), err)
	}
	return out, nil
}

// SendRawTransaction implements ports.Provider by decoding the raw RLP
// payload and replaying it through the underlying rpc client, the same
// round trip eth_sendRawTransaction performs server-side.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) ([32]byte, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return [32]byte{}, fmt.Errorf("%w: decoding raw transaction: %v", domain.ErrInconsistent, err)
	}
	if err := c.rpc.SendTransaction(ctx, &tx); err != nil {
		return [32]byte{}, fmt.Errorf("%w: eth_sendRawTransaction: %v", domain.ErrTransient, err)
	}
	return tx.Hash(), nil
}

// WaitForReceipt implements ports.Provider. It polls
// eth_getTransactionReceipt until the transaction is mined (one
// confirmation) or ctx is done, and reports whether the receipt's status is
// successful.
func (c *Client) WaitForReceipt(ctx context.Context, txHash [32]byte) (bool, error) {
	for {
		receipt, err := c.rpc.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt.Status == types.ReceiptStatusSuccessful, nil
		}
		if err != ethereum.NotFound {
			return false, fmt.Errorf("%w: eth_getTransactionReceipt: %v", domain.ErrTransient, err)
		}
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("%w: waiting for receipt: %v", domain.ErrTransient, ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
}

// isRangeTooLarge recognizes the handful of error strings EL nodes use to
// reject an oversized eth_getLogs window (no standardized error code
// exists across clients).
func isRangeTooLarge(err error) bool {
	msg := err.Error()
	for _, needle := range []string{"query returned more than", "block range", "too large", "limit exceeded"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
