package memledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stayescrow/internal/address"
	"github.com/punchamoorthee/stayescrow/internal/escrow"
	"github.com/punchamoorthee/stayescrow/internal/ledger"
)

const price = 1_000_000_000

var testProgram = solana.MustPublicKeyFromBase58("TDoetY1LKXn5vxxgkpE3keKhpRvbwHV6a2ep2Lreqov")

type fixture struct {
	ledger  *Ledger
	builder *ledger.Builder
	host    solana.PublicKey
	pair    address.Pair
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		ledger:  New(testProgram, opts...),
		builder: ledger.NewBuilder(testProgram),
		host:    solana.NewWallet().PublicKey(),
	}
	pair, err := address.New(testProgram).Derive(f.host, 0)
	require.NoError(t, err)
	f.pair = pair

	ix, err := f.builder.CreateListing(pair.Listing, f.host, ledger.CreateListingArgs{Price: price, PropertyID: [16]byte{1}})
	require.NoError(t, err)
	sig := f.submit(t, ix, f.host)
	f.ledger.Finalize(sig)
	return f
}

func (f *fixture) submitErr(t *testing.T, ix solana.Instruction, payer solana.PublicKey) (solana.Signature, error) {
	t.Helper()
	encoded, err := ledger.UnsignedTransaction(ix, payer, solana.Hash{})
	require.NoError(t, err)
	return f.ledger.SubmitEncoded(context.Background(), encoded)
}

func (f *fixture) submit(t *testing.T, ix solana.Instruction, payer solana.PublicKey) solana.Signature {
	t.Helper()
	sig, err := f.submitErr(t, ix, payer)
	require.NoError(t, err)
	return sig
}

func TestCreateListing_NoOverwrite(t *testing.T) {
	f := newFixture(t)
	ix, err := f.builder.CreateListing(f.pair.Listing, f.host, ledger.CreateListingArgs{Price: 1})
	require.NoError(t, err)

	sig, err := f.submitErr(t, ix, f.host)
	assert.ErrorIs(t, err, escrow.ErrListingExists)

	l, err := f.ledger.Listing(context.Background(), f.pair.Listing)
	require.NoError(t, err)
	assert.EqualValues(t, price, l.Price)

	info, err := f.ledger.Transaction(context.Background(), sig)
	require.NoError(t, err)
	assert.ErrorIs(t, info.Err, escrow.ErrListingExists)
}

func TestCreateListing_WrongAddress(t *testing.T) {
	f := newFixture(t)
	ix, err := f.builder.CreateListing(solana.NewWallet().PublicKey(), f.host, ledger.CreateListingArgs{Nonce: 5, Price: 1})
	require.NoError(t, err)

	_, err = f.submitErr(t, ix, f.host)
	assert.ErrorIs(t, err, errSeeds)
}

func TestRoundTrip_Balances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	guest := solana.NewWallet().PublicKey()
	f.ledger.Airdrop(guest, 2*price)

	f.submit(t, f.builder.BookListing(f.pair.Listing, f.pair.Escrow, guest, f.host), guest)

	l, err := f.ledger.Listing(ctx, f.pair.Listing)
	require.NoError(t, err)
	assert.True(t, l.BookedBy(guest))
	bal, err := f.ledger.Balance(ctx, f.pair.Escrow)
	require.NoError(t, err)
	assert.EqualValues(t, price, bal)

	f.submit(t, f.builder.ReleasePayment(f.pair.Listing, f.pair.Escrow, f.host, guest), f.host)

	bal, err = f.ledger.Balance(ctx, f.pair.Escrow)
	require.NoError(t, err)
	assert.Zero(t, bal)
	hostBal, err := f.ledger.Balance(ctx, f.host)
	require.NoError(t, err)
	assert.EqualValues(t, price, hostBal)
	guestBal, err := f.ledger.Balance(ctx, guest)
	require.NoError(t, err)
	assert.EqualValues(t, price, guestBal)
}

func TestRelease_InvalidGuestLeavesState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	guest := solana.NewWallet().PublicKey()
	f.ledger.Airdrop(guest, price)
	f.submit(t, f.builder.BookListing(f.pair.Listing, f.pair.Escrow, guest, f.host), guest)

	_, err := f.submitErr(t, f.builder.ReleasePayment(f.pair.Listing, f.pair.Escrow, f.host, solana.NewWallet().PublicKey()), f.host)
	assert.ErrorIs(t, err, escrow.ErrInvalidGuest)

	bal, err := f.ledger.Balance(ctx, f.pair.Escrow)
	require.NoError(t, err)
	assert.EqualValues(t, price, bal)
}

func TestRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	guest := solana.NewWallet().PublicKey()
	f.ledger.Airdrop(guest, price)
	f.submit(t, f.builder.BookListing(f.pair.Listing, f.pair.Escrow, guest, f.host), guest)

	f.submit(t, f.builder.Refund(f.pair.Listing, f.pair.Escrow, guest, f.host), guest)

	bal, err := f.ledger.Balance(ctx, guest)
	require.NoError(t, err)
	assert.EqualValues(t, price, bal)
	l, err := f.ledger.Listing(ctx, f.pair.Listing)
	require.NoError(t, err)
	assert.False(t, l.Booked)
}

func TestConcurrentBooking_ExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	const guests = 16

	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		already atomic.Int32
	)
	for i := 0; i < guests; i++ {
		guest := solana.NewWallet().PublicKey()
		f.ledger.Airdrop(guest, price)
		encoded, err := ledger.UnsignedTransaction(f.builder.BookListing(f.pair.Listing, f.pair.Escrow, guest, f.host), guest, solana.Hash{})
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.SubmitEncoded(context.Background(), encoded)
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, escrow.ErrAlreadyBooked):
				already.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, guests-1, already.Load())
	bal, err := f.ledger.Balance(context.Background(), f.pair.Escrow)
	require.NoError(t, err)
	assert.EqualValues(t, price, bal)
}

func TestManualFinality(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithManualFinality())
	guest := solana.NewWallet().PublicKey()
	f.ledger.Airdrop(guest, price)
	sig := f.submit(t, f.builder.BookListing(f.pair.Listing, f.pair.Escrow, guest, f.host), guest)

	info, err := f.ledger.Transaction(ctx, sig)
	require.NoError(t, err)
	assert.False(t, info.Finalized())
	assert.Empty(t, info.Calls)

	require.True(t, f.ledger.Finalize(sig))
	info, err = f.ledger.Transaction(ctx, sig)
	require.NoError(t, err)
	assert.True(t, info.Finalized())
	require.Len(t, info.Calls, 1)
	assert.Equal(t, ledger.InstructionBookListing, info.Calls[0].Instruction)
	assert.NoError(t, info.Err)

	_, err = f.ledger.Transaction(ctx, solana.Signature{9})
	assert.ErrorIs(t, err, ledger.ErrTxNotFound)
}
