package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stayescrow/internal/logging"
	"github.com/punchamoorthee/stayescrow/internal/models"
)

// The benchmark drives booking races against a server running the
// in-process ledger (LEDGER_MODE=memory). Each round registers a fresh
// listing; in the hotspot workload every worker competes for it, in the
// uniform workload each worker books its own listing.
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	price       uint64
)

var (
	totalRounds   uint64
	confirmed     uint64 // deposit applied
	replayed      uint64 // repeated confirm answered from the record
	lostRace      uint64 // 409 on confirm: another guest funded the listing
	unavailable   uint64 // 409 on create: listing already held
	notConfirmed  uint64 // 503
	integrityFail uint64 // 422
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "hotspot", "Workload type: uniform | hotspot")
	flag.Uint64Var(&price, "price", 1_000_000, "Listing price in lamports")
}

type client struct {
	http *http.Client
	log  logrus.FieldLogger
}

func main() {
	flag.Parse()
	log, err := logging.New("info", "text")
	if err != nil {
		panic(err)
	}
	log.WithFields(logrus.Fields{"workload": workload, "workers": concurrency, "duration": duration}).Info("starting benchmark")

	c := &client{http: &http.Client{Timeout: 5 * time.Second}, log: log}
	start := time.Now()
	for time.Since(start) < duration {
		switch workload {
		case "hotspot":
			c.hotspotRound()
		case "uniform":
			c.uniformRound()
		default:
			log.Fatalf("unknown workload %q", workload)
		}
		atomic.AddUint64(&totalRounds, 1)
	}
	printResults(time.Since(start))
}

// hotspotRound has every worker race for one listing.
func (c *client) hotspotRound() {
	host, err := c.newListing()
	if err != nil {
		c.log.WithError(err).Warn("create listing")
		atomic.AddUint64(&failOther, 1)
		return
	}
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(night int) {
			defer wg.Done()
			c.bookAndConfirm(host, night)
		}(i)
	}
	wg.Wait()
}

func (c *client) uniformRound() {
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			host, err := c.newListing()
			if err != nil {
				atomic.AddUint64(&failOther, 1)
				return
			}
			c.bookAndConfirm(host, 0)
		}()
	}
	wg.Wait()
}

func (c *client) newListing() (solana.PublicKey, error) {
	host := solana.NewWallet().PublicKey()
	if err := c.airdrop(host, 10_000_000); err != nil {
		return host, err
	}
	var created models.ListingResponse
	code, err := c.post("/api/v1/listings", models.CreateListingRequest{
		HostKey:    host.String(),
		Price:      price,
		PropertyID: uuid.NewString(),
	}, nil, &created)
	if err != nil || code != http.StatusCreated {
		return host, fmt.Errorf("create listing: status %d: %v", code, err)
	}
	sig, err := c.submit(created.Transaction)
	if err != nil {
		return host, err
	}
	code, err = c.post("/api/v1/listings/"+created.Listing.Address+"/confirm",
		models.ConfirmListingRequest{Signature: sig}, nil, nil)
	if err != nil || code != http.StatusOK {
		return host, fmt.Errorf("confirm listing: status %d: %v", code, err)
	}
	return host, nil
}

func (c *client) bookAndConfirm(host solana.PublicKey, night int) {
	guest := solana.NewWallet().PublicKey()
	if err := c.airdrop(guest, price*10); err != nil {
		atomic.AddUint64(&failOther, 1)
		return
	}

	checkIn := time.Now().UTC().AddDate(0, 1, 2*night)
	var created models.BookingCreatedResponse
	code, err := c.post("/api/v1/bookings", models.CreateBookingRequest{
		HostKey:  host.String(),
		GuestKey: guest.String(),
		CheckIn:  checkIn.Format(models.DateLayout),
		CheckOut: checkIn.AddDate(0, 0, 1).Format(models.DateLayout),
	}, nil, &created)
	switch {
	case err != nil:
		atomic.AddUint64(&failOther, 1)
		return
	case code == http.StatusConflict:
		atomic.AddUint64(&unavailable, 1)
		return
	case code != http.StatusCreated:
		atomic.AddUint64(&failOther, 1)
		return
	}

	sig, err := c.submit(created.Transaction)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return
	}
	body := models.ConfirmRequest{
		Signature:      sig,
		ListingAddress: created.ListingAddress,
		EscrowAddress:  created.EscrowAddress,
		Guest:          guest.String(),
	}
	headers := map[string]string{"Idempotency-Key": sig}
	path := fmt.Sprintf("/api/v1/bookings/%s/confirm", created.Booking.ID)

	var res models.ConfirmResponse
	code, err = c.post(path, body, headers, &res)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return
	}
	count(code)
	if code != http.StatusOK {
		return
	}

	// a client retry must be answered from the stored record
	code, err = c.post(path, body, headers, &res)
	if err == nil && code == http.StatusOK && res.Replayed {
		atomic.AddUint64(&replayed, 1)
	} else {
		atomic.AddUint64(&failOther, 1)
	}
}

func count(code int) {
	switch code {
	case http.StatusOK:
		atomic.AddUint64(&confirmed, 1)
	case http.StatusConflict:
		atomic.AddUint64(&lostRace, 1)
	case http.StatusServiceUnavailable:
		atomic.AddUint64(&notConfirmed, 1)
	case http.StatusUnprocessableEntity:
		atomic.AddUint64(&integrityFail, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
}

func (c *client) airdrop(key solana.PublicKey, amount uint64) error {
	code, err := c.post("/api/v1/dev/ledger/airdrop", models.AirdropRequest{Key: key.String(), Amount: amount}, nil, nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("airdrop: status %d", code)
	}
	return nil
}

// submit plays the wallet. A transaction the program rejects still gets a
// signature, which is what the confirm call needs.
func (c *client) submit(tx string) (string, error) {
	var out models.SubmitResponse
	code, err := c.post("/api/v1/dev/ledger/submit", models.SubmitRequest{Transaction: tx}, nil, &out)
	if err != nil {
		return "", err
	}
	if code != http.StatusOK {
		return "", fmt.Errorf("submit: status %d", code)
	}
	return out.Signature, nil
}

func (c *client) post(path string, payload any, headers map[string]string, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequest(http.MethodPost, targetURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func printResults(d time.Duration) {
	rounds := atomic.LoadUint64(&totalRounds)
	won := atomic.LoadUint64(&confirmed)
	lost := atomic.LoadUint64(&lostRace)

	attempts := won + lost
	abortRate := 0.0
	if attempts > 0 {
		abortRate = float64(lost) / float64(attempts) * 100
	}

	results := map[string]interface{}{
		"workload":             workload,
		"duration_sec":         d.Seconds(),
		"rounds":               rounds,
		"rounds_per_sec":       float64(rounds) / d.Seconds(),
		"deposits_confirmed":   won,
		"confirm_replays":      atomic.LoadUint64(&replayed),
		"lost_races":           lost,
		"lost_race_rate_pct":   abortRate,
		"create_unavailable":   atomic.LoadUint64(&unavailable),
		"not_confirmed":        atomic.LoadUint64(&notConfirmed),
		"integrity_failures":   atomic.LoadUint64(&integrityFail),
		"errors":               atomic.LoadUint64(&failOther),
		"double_funded_rounds": doubleFunded(rounds, won),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}

// doubleFunded reports, for the hotspot workload, how many more deposits
// were confirmed than listings raced for. It must be zero.
func doubleFunded(rounds, won uint64) uint64 {
	if workload != "hotspot" || won <= rounds {
		return 0
	}
	return won - rounds
}
