package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/onramp-pay/onramp_pay/internal/authorization"
	"github.com/onramp-pay/onramp_pay/internal/biometric"
	"github.com/onramp-pay/onramp_pay/internal/chain"
	"github.com/onramp-pay/onramp_pay/internal/failure"
	"github.com/onramp-pay/onramp_pay/internal/fuzzy"
	"github.com/onramp-pay/onramp_pay/internal/identity"
	"github.com/onramp-pay/onramp_pay/internal/journal"
	"github.com/onramp-pay/onramp_pay/internal/keys"
	"github.com/onramp-pay/onramp_pay/internal/lock"
	"github.com/onramp-pay/onramp_pay/internal/logging"
	"github.com/onramp-pay/onramp_pay/internal/merchant"
	"github.com/onramp-pay/onramp_pay/internal/notification"
)

const defaultBroadcastTimeout = 30 * time.Second

// Catalog lists the merchant whitelist.
type Catalog interface {
	List(ctx context.Context) ([]merchant.Merchant, error)
}

// Credentials looks up enrollment records.
type Credentials interface {
	Find(ctx context.Context, userID string) (identity.Record, error)
}

// Dependencies wires a Service.
type Dependencies struct {
	Catalog     Catalog
	Credentials Credentials
	Encoder     *biometric.Encoder
	Extractor   identity.KeyExtractor
	Chain       chain.Client
	Locks       lock.Locker
	Journal     journal.Journal
	Notifier    notification.Notifier
	Observer    Observer
	Logger      *slog.Logger
	// SpendingLimit is the per-payment ceiling in ether.
	SpendingLimit decimal.Decimal
	// BroadcastTimeout bounds the submission once it has started.
	BroadcastTimeout time.Duration
}

// Service runs the payment pipeline: authorize, derive the key, sign under
// the per-sender lock, broadcast.
type Service struct {
	catalog          Catalog
	credentials      Credentials
	authorizer       authorization.Authorizer
	encoder          *biometric.Encoder
	extractor        identity.KeyExtractor
	chain            chain.Client
	locks            lock.Locker
	journal          journal.Journal
	notifier         notification.Notifier
	observer         Observer
	logger           *slog.Logger
	limit            decimal.Decimal
	broadcastTimeout time.Duration
}

// NewService constructs a payment service.
func NewService(deps Dependencies) *Service {
	s := &Service{
		catalog:          deps.Catalog,
		credentials:      deps.Credentials,
		authorizer:       authorization.New(),
		encoder:          deps.Encoder,
		extractor:        deps.Extractor,
		chain:            deps.Chain,
		locks:            deps.Locks,
		journal:          deps.Journal,
		notifier:         deps.Notifier,
		observer:         deps.Observer,
		logger:           deps.Logger,
		limit:            deps.SpendingLimit,
		broadcastTimeout: deps.BroadcastTimeout,
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.locks == nil {
		s.locks = lock.NewMemory()
	}
	if s.encoder == nil {
		s.encoder = biometric.NewEncoder()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.broadcastTimeout <= 0 {
		s.broadcastTimeout = defaultBroadcastTimeout
	}
	return s
}

// SpendingLimit returns the configured per-payment ceiling.
func (s *Service) SpendingLimit() decimal.Decimal { return s.limit }

// run carries the state that moves between stages of one payment.
type run struct {
	req     Request
	auth    authorization.Authorization
	wei     *big.Int
	record  identity.Record
	key     []byte
	signed  *types.Transaction
	sender  common.Address
	stage   State
	started time.Time
}

// Pay executes one payment to a terminal outcome. The returned error is a
// *failure.Error whenever Outcome.State is Failed. Nothing is retried.
func (s *Service) Pay(ctx context.Context, req Request) (Outcome, error) {
	s.observer.PaymentStarted()
	r := &run{req: req}
	defer func() {
		if r.key != nil {
			keys.Wipe(r.key)
		}
	}()

	rec, err := s.execute(ctx, r)
	if err != nil {
		reason := failure.ReasonOf(err)
		s.observer.PaymentFinished(string(reason))
		s.logger.Warn("payment failed",
			slog.String("request_id", logging.RequestID(ctx)),
			slog.String("user_id", req.UserID),
			slog.String("stage", r.stage.String()),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
		s.recordFailure(ctx, r, reason)
		return Outcome{State: Failed, Stage: r.stage, Reason: reason, Message: failure.PublicMessage(err)}, err
	}

	s.observer.PaymentFinished("")
	s.logger.Info("payment broadcast",
		slog.String("request_id", logging.RequestID(ctx)),
		slog.String("user_id", req.UserID),
		slog.String("tx_hash", rec.TxHash),
		slog.String("merchant", rec.MerchantName),
		slog.String("amount", rec.Amount.String()),
		slog.Uint64("nonce", rec.Nonce),
	)
	return Outcome{State: Done, Stage: Done, Record: rec}, nil
}

func (s *Service) execute(ctx context.Context, r *run) (Record, error) {
	if err := s.validate(ctx, r); err != nil {
		return Record{}, err
	}
	if err := s.derive(ctx, r); err != nil {
		return Record{}, err
	}
	unlock, err := s.sign(ctx, r)
	if err != nil {
		return Record{}, err
	}
	defer unlock()
	return s.broadcast(ctx, r)
}

func (s *Service) enter(r *run, next State) {
	if !r.started.IsZero() {
		s.observer.StageCompleted(r.stage.String(), time.Since(r.started))
	}
	s.logger.Debug("payment stage",
		slog.String("user_id", r.req.UserID),
		slog.String("from", r.stage.String()),
		slog.String("to", next.String()),
	)
	r.stage = next
	r.started = time.Now()
}

// validate runs the business checks. Nothing here touches the node or the
// user's credentials.
func (s *Service) validate(ctx context.Context, r *run) error {
	s.enter(r, Validating)
	merchants, err := s.catalog.List(ctx)
	if err != nil {
		return failure.Wrap(failure.Internal, err, "load merchant catalog")
	}
	auth, err := s.authorizer.Authorize(r.req.Receiver, r.req.Amount, merchants, s.limit)
	if err != nil {
		return err
	}
	wei, err := chain.ToWei(auth.Amount)
	if err != nil {
		return failure.Wrap(failure.InvalidAmount, err, "amount is not representable in wei")
	}
	r.auth = auth
	r.wei = wei
	return nil
}

// derive checks the node is reachable, then rebuilds the user's key from the
// presented proof. The derived address must match the enrolled one.
func (s *Service) derive(ctx context.Context, r *run) error {
	if err := s.chain.Ping(ctx); err != nil {
		return err
	}
	s.enter(r, Deriving)

	rec, err := s.credentials.Find(ctx, r.req.UserID)
	if err != nil {
		if errors.Is(err, failure.ErrUserNotEnrolled) {
			return err
		}
		return failure.Wrap(failure.Internal, err, "load credential")
	}
	r.record = rec

	var key []byte
	switch rec.Mode {
	case identity.ModeBiometric:
		key, err = s.reproduce(rec, r.req.Proof.Capture)
	case identity.ModeCredential:
		if len(r.req.Proof.Secret) == 0 {
			return failure.New(failure.InvalidCapture, "authenticator secret is required for this user")
		}
		key, err = keys.DeriveFromCredential(r.req.Proof.Secret, rec.CredentialID)
	default:
		return failure.New(failure.Internal, "unknown enrollment mode %q", rec.Mode)
	}
	if err != nil {
		return err
	}
	r.key = key

	addr, err := keys.AddressOf(key)
	if err != nil {
		return failure.Wrap(failure.Internal, err, "derive address")
	}
	if addr != rec.Address {
		return failure.New(failure.KeyMismatch, "presented proof does not unlock the enrolled account")
	}
	r.sender = addr
	return nil
}

func (s *Service) reproduce(rec identity.Record, capture []byte) ([]byte, error) {
	if len(capture) == 0 {
		return nil, failure.New(failure.InvalidCapture, "fingerprint is required for this user")
	}
	helper, err := fuzzy.ParseHelper(rec.Helper)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "stored helper data is unreadable")
	}
	vector, err := s.encoder.Encode(capture)
	if err != nil {
		return nil, err
	}
	return s.extractor.Reproduce(vector, helper)
}

// sign takes the per-sender lock, reads the live nonce and gas price, and
// signs through a single-use handle. The lock is held until broadcast ends.
func (s *Service) sign(ctx context.Context, r *run) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.enter(r, Signing)

	unlock, err := s.locks.Lock(ctx, "sender:"+strings.ToLower(r.sender.Hex()))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, failure.Wrap(failure.Internal, err, "acquire sender lock")
	}
	release := true
	defer func() {
		if release {
			unlock()
		}
	}()

	nonce, err := s.chain.PendingNonceAt(ctx, r.sender)
	if err != nil {
		return nil, err
	}
	gasPrice, err := s.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx := chain.BuildTransfer(nonce, r.auth.Receiver, r.wei, gasPrice)
	if !r.auth.Covers(*tx.To(), chain.FromWei(tx.Value())) {
		return nil, failure.New(failure.Internal, "transaction does not match the authorization")
	}

	key := r.key
	r.key = nil
	err = keys.Use(key, func(h *keys.Handle) error {
		signed, err := h.SignTransaction(tx, s.chain.ChainID())
		if err != nil {
			return err
		}
		r.signed = signed
		return nil
	})
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "sign transaction")
	}
	release = false
	return unlock, nil
}

// broadcast submits the signed transaction. Once submission starts the
// caller's cancellation no longer applies.
func (s *Service) broadcast(ctx context.Context, r *run) (Record, error) {
	s.enter(r, Broadcasting)
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.broadcastTimeout)
	defer cancel()

	if err := s.chain.SendTransaction(bctx, r.signed); err != nil {
		if failure.ReasonOf(err) == failure.Internal {
			err = failure.Wrap(failure.BroadcastRejected, err, "broadcast failed")
		}
		return Record{}, err
	}
	s.enter(r, Done)

	rec := Record{
		TxHash:          r.signed.Hash().Hex(),
		ReceiverAddress: r.auth.Receiver.Hex(),
		Amount:          r.auth.Amount,
		MerchantName:    r.auth.Merchant.Name,
		Sender:          r.sender.Hex(),
		Nonce:           r.signed.Nonce(),
		CreatedAt:       time.Now().UTC(),
	}
	s.recordSuccess(bctx, r, rec)
	return rec, nil
}

func (s *Service) recordSuccess(ctx context.Context, r *run, rec Record) {
	if s.journal != nil {
		err := s.journal.Append(ctx, journal.Entry{
			UserID:       r.req.UserID,
			Sender:       rec.Sender,
			Receiver:     rec.ReceiverAddress,
			MerchantName: rec.MerchantName,
			Amount:       rec.Amount,
			TxHash:       rec.TxHash,
			Nonce:        rec.Nonce,
			Status:       journal.StatusBroadcast,
			CreatedAt:    rec.CreatedAt,
		})
		if err != nil {
			s.logger.Error("journal payment", slog.String("tx_hash", rec.TxHash), slog.Any("error", err))
		}
	}
	if s.notifier != nil {
		err := s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindPaymentBroadcast,
			Destination: r.req.UserID,
			Body:        fmt.Sprintf("Sent %s ETH to %s", rec.Amount.String(), rec.MerchantName),
			TxHash:      rec.TxHash,
		})
		if err != nil {
			s.logger.Warn("notify payment", slog.String("tx_hash", rec.TxHash), slog.Any("error", err))
		}
	}
}

// alertReasons are failures the account owner is told about: a proof that
// did not match their enrollment, or a signed payment the node refused.
var alertReasons = map[failure.Reason]bool{
	failure.KeyMismatch:       true,
	failure.BroadcastRejected: true,
}

func (s *Service) recordFailure(ctx context.Context, r *run, reason failure.Reason) {
	if r.req.UserID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if s.notifier != nil && alertReasons[reason] {
		err := s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindPaymentFailed,
			Destination: r.req.UserID,
			Body:        fmt.Sprintf("Payment of %s ETH failed: %s", r.req.Amount.String(), reason),
		})
		if err != nil {
			s.logger.Warn("notify failed payment", slog.String("user_id", r.req.UserID), slog.Any("error", err))
		}
	}
	if s.journal == nil {
		return
	}
	entry := journal.Entry{
		UserID:       r.req.UserID,
		Receiver:     strings.TrimSpace(r.req.Receiver),
		MerchantName: r.auth.Merchant.Name,
		Amount:       r.req.Amount,
		Status:       journal.StatusFailed,
		Reason:       string(reason),
		CreatedAt:    time.Now().UTC(),
	}
	if r.sender != (common.Address{}) {
		entry.Sender = r.sender.Hex()
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		s.logger.Error("journal failed payment", slog.String("user_id", r.req.UserID), slog.Any("error", err))
	}
}

// History returns the user's recent payment attempts.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return []journal.Entry{}, nil
	}
	return s.journal.ListByUser(ctx, userID, limit)
}
