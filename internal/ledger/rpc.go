package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/stayescrow/internal/escrow"
)

var queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "stayescrow_ledger_query_duration_seconds",
	Help:    "Latency of ledger RPC queries",
	Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
}, []string{"method"})

// RPCClient reads ledger state over JSON-RPC. Every call is bounded by
// timeout; exceeding it yields ErrUnavailable.
type RPCClient struct {
	rpc       *rpc.Client
	programID solana.PublicKey
	timeout   time.Duration
}

func NewRPCClient(endpoint string, programID solana.PublicKey, timeout time.Duration) *RPCClient {
	return &RPCClient{
		rpc:       rpc.New(endpoint),
		programID: programID,
		timeout:   timeout,
	}
}

func (c *RPCClient) ProgramID() solana.PublicKey {
	return c.programID
}

// Transaction reports the status of sig and, once finalized, its escrow
// program calls and execution error.
func (c *RPCClient) Transaction(ctx context.Context, sig solana.Signature) (*TxInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	defer c.observe("getSignatureStatuses", time.Now())

	statuses, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, unavailable("signature status", err)
	}
	if len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return nil, ErrTxNotFound
	}
	st := statuses.Value[0]
	info := &TxInfo{Signature: sig, Slot: st.Slot, Status: TxStatus(st.ConfirmationStatus)}
	if st.ConfirmationStatus != rpc.ConfirmationStatusFinalized {
		return info, nil
	}

	version := uint64(0)
	out, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &version,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		// status is ahead of the transaction index; treat as not yet visible
		info.Status = TxStatusConfirmed
		return info, nil
	}
	if err != nil {
		return nil, unavailable("get transaction", err)
	}
	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", sig, err)
	}
	info.Slot = out.Slot
	info.Calls = ProgramCalls(tx, c.programID)
	if out.Meta != nil {
		info.Err = ParseTxError(out.Meta.Err)
	}
	return info, nil
}

// Listing fetches and decodes the listing account at addr.
func (c *RPCClient) Listing(ctx context.Context, addr solana.PublicKey) (*escrow.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	defer c.observe("getAccountInfo", time.Now())

	out, err := c.rpc.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentFinalized,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, unavailable("account info", err)
	}
	if out.Value == nil || out.Value.Data == nil {
		return nil, ErrAccountNotFound
	}
	if !out.Value.Owner.Equals(c.programID) {
		return nil, fmt.Errorf("%w: %s is owned by %s", ErrBadAccountData, addr, out.Value.Owner)
	}
	return DecodeListing(out.Value.Data.GetBinary())
}

// Balance returns the lamports held at addr; absent accounts hold zero.
func (c *RPCClient) Balance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	defer c.observe("getBalance", time.Now())

	out, err := c.rpc.GetBalance(ctx, addr, rpc.CommitmentFinalized)
	if err != nil {
		return 0, unavailable("balance", err)
	}
	return out.Value, nil
}

func (c *RPCClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	defer c.observe("getLatestBlockhash", time.Now())

	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, unavailable("latest blockhash", err)
	}
	return out.Value.Blockhash, nil
}

func (c *RPCClient) observe(method string, start time.Time) {
	queryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
