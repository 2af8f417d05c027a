package payments

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/onramp-pay/onramp_pay/internal/biometric"
	"github.com/onramp-pay/onramp_pay/internal/chain"
	"github.com/onramp-pay/onramp_pay/internal/failure"
	"github.com/onramp-pay/onramp_pay/internal/fuzzy"
	"github.com/onramp-pay/onramp_pay/internal/identity"
	"github.com/onramp-pay/onramp_pay/internal/journal"
	"github.com/onramp-pay/onramp_pay/internal/lock"
	"github.com/onramp-pay/onramp_pay/internal/logging"
	"github.com/onramp-pay/onramp_pay/internal/merchant"
	"github.com/onramp-pay/onramp_pay/internal/notification"
)

const (
	flightsAddr = "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"
	unknownAddr = "0x000000000000000000000000000000000000dEaD"
)

func fingerprint(t *testing.T, seed int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(0)
			if ((x+seed)/4+(y*seed+y)/5)%2 == 0 {
				v = 255
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type spyExtractor struct {
	inner      *fuzzy.Extractor
	reproduced int32
}

func (s *spyExtractor) Generate(v biometric.FeatureVector) ([]byte, fuzzy.HelperData, error) {
	return s.inner.Generate(v)
}

func (s *spyExtractor) Reproduce(v biometric.FeatureVector, h fuzzy.HelperData) ([]byte, error) {
	atomic.AddInt32(&s.reproduced, 1)
	return s.inner.Reproduce(v, h)
}

type testNotifier struct {
	mu   sync.Mutex
	last notification.Message
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = msg
	return nil
}

type stageRecorder struct {
	mu       sync.Mutex
	stages   []string
	finished []string
}

func (r *stageRecorder) PaymentStarted() {}
func (r *stageRecorder) StageCompleted(stage string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}
func (r *stageRecorder) PaymentFinished(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, reason)
}

type fixture struct {
	svc       *Service
	ids       *identity.Service
	node      *chain.MemoryNode
	extractor *spyExtractor
	journal   journal.Journal
	notifier  *testNotifier
	observer  *stageRecorder
	capture   []byte
	sender    common.Address
}

func newFixture(t *testing.T, opts ...chain.MemoryOption) *fixture {
	t.Helper()
	x, err := fuzzy.New(fuzzy.DefaultPrecision, fuzzy.DefaultTolerance)
	if err != nil {
		t.Fatalf("extractor: %v", err)
	}
	spy := &spyExtractor{inner: x}
	encoder := biometric.NewEncoder()
	locks := lock.NewMemory()
	ids := identity.NewService(identity.NewMemoryRepository(), encoder, spy, locks)

	capture := fingerprint(t, 1)
	rec, err := ids.EnrollBiometric(context.Background(), "alice", capture)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}

	node := chain.NewMemoryNode(big.NewInt(chain.SepoliaChainID), opts...)
	node.Fund(rec.Address, new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)))

	catalog := merchant.NewService(merchant.NewMemoryRepository(
		merchant.Merchant{Name: "Coffee", ReceiverAddress: "0x1111111111111111111111111111111111111111"},
		merchant.Merchant{Name: "Flights", ReceiverAddress: flightsAddr},
	))
	f := &fixture{
		ids:       ids,
		node:      node,
		extractor: spy,
		journal:   journal.NewInMemory(),
		notifier:  &testNotifier{},
		observer:  &stageRecorder{},
		capture:   capture,
		sender:    rec.Address,
	}
	f.svc = NewService(Dependencies{
		Catalog:       catalog,
		Credentials:   ids,
		Encoder:       encoder,
		Extractor:     spy,
		Chain:         node,
		Locks:         locks,
		Journal:       f.journal,
		Notifier:      f.notifier,
		Observer:      f.observer,
		Logger:        logging.Discard(),
		SpendingLimit: decimal.RequireFromString("1.0"),
	})
	return f
}

func (f *fixture) pay(amount string, receiver string, proof Proof) (Outcome, error) {
	return f.svc.Pay(context.Background(), Request{
		UserID:   "alice",
		Receiver: receiver,
		Amount:   decimal.RequireFromString(amount),
		Proof:    proof,
	})
}

func TestPayHappyPath(t *testing.T) {
	f := newFixture(t)

	out, err := f.pay("0.05", flightsAddr, Proof{Capture: f.capture})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if out.State != Done || out.Record.TxHash == "" || out.Record.MerchantName != "Flights" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	sent := f.node.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected exactly one broadcast, got %d", len(sent))
	}
	tx := sent[0]
	if *tx.To() != common.HexToAddress(flightsAddr) {
		t.Fatalf("unexpected receiver %s", tx.To().Hex())
	}
	if tx.Value().String() != "50000000000000000" {
		t.Fatalf("unexpected value %s", tx.Value())
	}
	if tx.Gas() != chain.TransferGasLimit {
		t.Fatalf("unexpected gas %d", tx.Gas())
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(chain.SepoliaChainID)), tx)
	if err != nil || from != f.sender {
		t.Fatalf("expected sender %s, got %s (%v)", f.sender.Hex(), from.Hex(), err)
	}
	if tx.Hash().Hex() != out.Record.TxHash {
		t.Fatalf("record hash does not match broadcast")
	}

	history, _ := f.journal.ListByUser(context.Background(), "alice", 0)
	if len(history) != 1 || history[0].Status != journal.StatusBroadcast {
		t.Fatalf("expected one journaled broadcast, got %+v", history)
	}
	if f.notifier.last.Kind != notification.KindPaymentBroadcast {
		t.Fatalf("expected notification to be sent")
	}
	wantStages := []string{"validating", "deriving", "signing", "broadcasting"}
	if len(f.observer.stages) != len(wantStages) {
		t.Fatalf("expected stages %v, got %v", wantStages, f.observer.stages)
	}
	for i, s := range wantStages {
		if f.observer.stages[i] != s {
			t.Fatalf("expected stages %v, got %v", wantStages, f.observer.stages)
		}
	}
}

func TestPayToleratesCaptureNoise(t *testing.T) {
	f := newFixture(t)
	// A one-pixel change in the source image stays well inside the tolerance.
	img, _ := png.Decode(bytes.NewReader(f.capture))
	gray := img.(*image.Gray)
	gray.SetGray(10, 10, color.Gray{Y: 255 - gray.GrayAt(10, 10).Y})
	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := f.pay("0.05", flightsAddr, Proof{Capture: buf.Bytes()}); err != nil {
		t.Fatalf("pay with slightly noisy capture: %v", err)
	}
}

func TestPayOverLimitTouchesNothing(t *testing.T) {
	f := newFixture(t)
	out, err := f.pay("1.5", flightsAddr, Proof{Capture: f.capture})
	if !errors.Is(err, failure.ErrLimitExceeded) {
		t.Fatalf("expected LimitExceeded, got %v", err)
	}
	if out.State != Failed || out.Stage != Validating {
		t.Fatalf("expected failure at validation, got %+v", out)
	}
	if f.node.TotalCalls() != 0 {
		t.Fatalf("expected zero chain calls, got %d", f.node.TotalCalls())
	}
	if f.extractor.reproduced != 0 {
		t.Fatalf("extractor must not run on a rejected payment")
	}
}

func TestPayUnknownMerchantNeverDerives(t *testing.T) {
	f := newFixture(t)
	_, err := f.pay("0.05", unknownAddr, Proof{Capture: f.capture})
	if !errors.Is(err, failure.ErrUnknownMerchant) {
		t.Fatalf("expected UnknownMerchant, got %v", err)
	}
	if f.extractor.reproduced != 0 || f.node.TotalCalls() != 0 {
		t.Fatalf("expected no derivation and no chain calls")
	}
	history, _ := f.journal.ListByUser(context.Background(), "alice", 0)
	if len(history) != 1 || history[0].Reason != string(failure.UnknownMerchant) {
		t.Fatalf("expected failed attempt in journal, got %+v", history)
	}
}

func TestPayRejectsSubWeiAmount(t *testing.T) {
	f := newFixture(t)
	_, err := f.pay("0.0000000000000000001", flightsAddr, Proof{Capture: f.capture})
	if !errors.Is(err, failure.ErrInvalidAmount) {
		t.Fatalf("expected InvalidAmount, got %v", err)
	}
}

func TestPayWrongFingerprint(t *testing.T) {
	f := newFixture(t)
	_, err := f.pay("0.05", flightsAddr, Proof{Capture: fingerprint(t, 7)})
	if !errors.Is(err, failure.ErrKeyMismatch) {
		t.Fatalf("expected KeyMismatch, got %v", err)
	}
	if len(f.node.Sent()) != 0 {
		t.Fatalf("nothing may be broadcast with a wrong key")
	}
	if f.notifier.last.Kind != notification.KindPaymentFailed || f.notifier.last.Destination != "alice" {
		t.Fatalf("expected owner to be alerted, got %+v", f.notifier.last)
	}
}

func TestPayMissingProof(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pay("0.05", flightsAddr, Proof{}); !errors.Is(err, failure.ErrInvalidCapture) {
		t.Fatalf("expected InvalidCapture, got %v", err)
	}
}

func TestPayUserNotEnrolled(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Pay(context.Background(), Request{
		UserID:   "mallory",
		Receiver: flightsAddr,
		Amount:   decimal.RequireFromString("0.05"),
		Proof:    Proof{Capture: f.capture},
	})
	if !errors.Is(err, failure.ErrUserNotEnrolled) {
		t.Fatalf("expected UserNotEnrolled, got %v", err)
	}
	if f.extractor.reproduced != 0 {
		t.Fatalf("extractor must not run without a record")
	}
}

func TestPayNodeDownBeforeDerivation(t *testing.T) {
	f := newFixture(t)
	f.node.SetDown(true)
	_, err := f.pay("0.05", flightsAddr, Proof{Capture: f.capture})
	if !errors.Is(err, failure.ErrNodeUnreachable) {
		t.Fatalf("expected NodeUnreachable, got %v", err)
	}
	if f.extractor.reproduced != 0 {
		t.Fatalf("connectivity must be checked before derivation")
	}
}

func TestPayBroadcastRejectedKeepsNodeDetail(t *testing.T) {
	// At one ether per gas unit the 10 ether balance cannot cover the fee.
	f := newFixture(t, chain.WithBalanceCheck(), chain.WithGasPrice(big.NewInt(1e18)))
	out, err := f.pay("0.05", flightsAddr, Proof{Capture: f.capture})
	if !errors.Is(err, failure.ErrBroadcastRejected) {
		t.Fatalf("expected BroadcastRejected, got %v", err)
	}
	if out.Stage != Broadcasting {
		t.Fatalf("expected failure at broadcasting, got %s", out.Stage)
	}
	if !strings.Contains(err.Error(), "insufficient funds") {
		t.Fatalf("expected node detail in error, got %v", err)
	}
	if len(f.node.Sent()) != 0 {
		t.Fatalf("rejected transaction must not be recorded as sent")
	}
}

func TestPayCredentialMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	secret := bytes.Repeat([]byte{0x42}, 32)
	rec, err := f.ids.EnrollCredential(ctx, "bob", "cred-bob", append([]byte(nil), secret...))
	if err != nil {
		t.Fatalf("enroll credential: %v", err)
	}
	f.node.Fund(rec.Address, big.NewInt(1e18))

	_, err = f.svc.Pay(ctx, Request{
		UserID:   "bob",
		Receiver: flightsAddr,
		Amount:   decimal.RequireFromString("0.01"),
		Proof:    Proof{Secret: append([]byte(nil), secret...)},
	})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}

	_, err = f.svc.Pay(ctx, Request{
		UserID:   "bob",
		Receiver: flightsAddr,
		Amount:   decimal.RequireFromString("0.01"),
		Proof:    Proof{Secret: bytes.Repeat([]byte{0x43}, 32)},
	})
	if !errors.Is(err, failure.ErrKeyMismatch) {
		t.Fatalf("expected KeyMismatch for a wrong secret, got %v", err)
	}
	if len(f.node.Sent()) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(f.node.Sent()))
	}
}

func TestPayCancelledBeforeSigning(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.Pay(ctx, Request{
		UserID:   "alice",
		Receiver: flightsAddr,
		Amount:   decimal.RequireFromString("0.05"),
		Proof:    Proof{Capture: f.capture},
	})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if len(f.node.Sent()) != 0 {
		t.Fatalf("a cancelled payment must not broadcast")
	}
}

func TestConcurrentPaymentsUseDistinctNonces(t *testing.T) {
	f := newFixture(t)
	const n = 4
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.pay("0.01", flightsAddr, Proof{Capture: f.capture})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent payment failed: %v", err)
		}
	}

	seen := make(map[uint64]bool)
	for _, tx := range f.node.Sent() {
		if seen[tx.Nonce()] {
			t.Fatalf("nonce %d used twice", tx.Nonce())
		}
		seen[tx.Nonce()] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d broadcasts, got %d", n, len(seen))
	}
}
