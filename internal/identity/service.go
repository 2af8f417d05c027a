package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onramp-pay/onramp_pay/internal/biometric"
	"github.com/onramp-pay/onramp_pay/internal/failure"
	"github.com/onramp-pay/onramp_pay/internal/fuzzy"
	"github.com/onramp-pay/onramp_pay/internal/keys"
	"github.com/onramp-pay/onramp_pay/internal/lock"
)

// KeyExtractor turns a feature vector into a stable key plus helper data.
type KeyExtractor interface {
	Generate(v biometric.FeatureVector) ([]byte, fuzzy.HelperData, error)
	Reproduce(v biometric.FeatureVector, helper fuzzy.HelperData) ([]byte, error)
}

// Observer records enrollment outcomes.
type Observer interface {
	Enrollment(mode, result string)
}

type nopObserver struct{}

func (nopObserver) Enrollment(string, string) {}

var ErrMissingUserID = errors.New("user_id is required")

// Service manages enrollment. Writes for one user are serialized through the
// locker; the repository's write-once guarantee backs it up across replicas.
type Service struct {
	repo      Repository
	encoder   *biometric.Encoder
	extractor KeyExtractor
	locks     lock.Locker
	observer  Observer
}

// NewService creates an enrollment service.
func NewService(repo Repository, encoder *biometric.Encoder, extractor KeyExtractor, locks lock.Locker) *Service {
	return &Service{repo: repo, encoder: encoder, extractor: extractor, locks: locks, observer: nopObserver{}}
}

// Observe sets the enrollment outcome recorder.
func (s *Service) Observe(o Observer) *Service {
	if o != nil {
		s.observer = o
	}
	return s
}

// Find returns the enrollment record for userID.
func (s *Service) Find(ctx context.Context, userID string) (Record, error) {
	return s.repo.Find(ctx, strings.TrimSpace(userID))
}

// EnrollBiometric derives a key from the capture, keeps only the helper data
// and the resulting address, and discards the key.
func (s *Service) EnrollBiometric(ctx context.Context, userID string, capture []byte) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, ErrMissingUserID
	}
	return s.exclusive(ctx, userID, ModeBiometric, func() (Record, error) {
		if _, err := s.repo.Find(ctx, userID); err == nil {
			return Record{}, alreadyEnrolled(userID)
		} else if !errors.Is(err, failure.ErrUserNotEnrolled) {
			return Record{}, err
		}
		rec, err := s.biometricRecord(userID, capture)
		if err != nil {
			return Record{}, err
		}
		if err := s.repo.Create(ctx, rec); err != nil {
			return Record{}, err
		}
		return rec, nil
	})
}

// ReenrollBiometric replaces an existing record with a fresh biometric one.
func (s *Service) ReenrollBiometric(ctx context.Context, userID string, capture []byte) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, ErrMissingUserID
	}
	return s.exclusive(ctx, userID, ModeBiometric, func() (Record, error) {
		prev, err := s.repo.Find(ctx, userID)
		if err != nil {
			return Record{}, err
		}
		rec, err := s.biometricRecord(userID, capture)
		if err != nil {
			return Record{}, err
		}
		if err := s.repo.Replace(ctx, rec); err != nil {
			return Record{}, err
		}
		rec.CreatedAt = prev.CreatedAt
		return rec, nil
	})
}

// EnrollCredential registers an authenticator credential. The secret is used
// only to compute the payment address and is never stored.
func (s *Service) EnrollCredential(ctx context.Context, userID, credentialID string, secret []byte) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, ErrMissingUserID
	}
	return s.exclusive(ctx, userID, ModeCredential, func() (Record, error) {
		key, err := keys.DeriveFromCredential(secret, credentialID)
		if err != nil {
			return Record{}, err
		}
		defer keys.Wipe(key)
		addr, err := keys.AddressOf(key)
		if err != nil {
			return Record{}, failure.Wrap(failure.Internal, err, "derive address")
		}
		now := time.Now().UTC()
		rec := Record{
			UserID:       userID,
			Mode:         ModeCredential,
			CredentialID: credentialID,
			Address:      addr,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.Create(ctx, rec); err != nil {
			return Record{}, err
		}
		return rec, nil
	})
}

func (s *Service) biometricRecord(userID string, capture []byte) (Record, error) {
	vector, err := s.encoder.Encode(capture)
	if err != nil {
		return Record{}, err
	}
	key, helper, err := s.extractor.Generate(vector)
	if err != nil {
		return Record{}, err
	}
	defer keys.Wipe(key)
	addr, err := keys.AddressOf(key)
	if err != nil {
		return Record{}, failure.Wrap(failure.Internal, err, "derive address")
	}
	encoded, err := helper.MarshalBinary()
	if err != nil {
		return Record{}, fmt.Errorf("encode helper data: %w", err)
	}
	now := time.Now().UTC()
	return Record{
		UserID:    userID,
		Mode:      ModeBiometric,
		Helper:    encoded,
		Address:   addr,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Service) exclusive(ctx context.Context, userID string, mode Mode, fn func() (Record, error)) (Record, error) {
	unlock, err := s.locks.Lock(ctx, "enroll:"+userID)
	if err != nil {
		return Record{}, fmt.Errorf("lock enrollment: %w", err)
	}
	defer unlock()
	rec, err := fn()
	result := "ok"
	if err != nil {
		result = string(failure.ReasonOf(err))
	}
	s.observer.Enrollment(string(mode), result)
	return rec, err
}
