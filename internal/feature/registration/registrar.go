// Package registration validates sign-ups and creates user records.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"birthday_notifier/internal/domain"
	"birthday_notifier/internal/logging"
	"birthday_notifier/internal/metrics"
)

const defaultStoreTimeout = 10 * time.Second

type userStore interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
}

// Input is the raw registration payload.
type Input struct {
	Username    string `json:"username" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	DateOfBirth string `json:"dateOfBirth" validate:"required"`
}

// Registrar creates users after validating input and email uniqueness.
type Registrar struct {
	users    userStore
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *logrus.Entry
	now      func() time.Time

	// storeTimeout bounds each store call made during a registration.
	storeTimeout time.Duration
}

// NewRegistrar constructs a Registrar for the provided user store. m may be nil.
func NewRegistrar(users userStore, m *metrics.Metrics, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		users:    users,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  m,
		logger:   logger,
		now:      time.Now,

		storeTimeout: defaultStoreTimeout,
	}
}

// Register validates in and persists a new user. Client mistakes are reported
// as domain.ErrValidation, domain.ErrInvalidEmail, domain.ErrInvalidDateOfBirth
// or domain.ErrDuplicate; everything else wraps domain.ErrStorage.
func (r *Registrar) Register(ctx context.Context, in Input) (domain.User, error) {
	if r == nil || r.users == nil {
		return domain.User{}, errors.New("registrar is not initialized")
	}
	if ctx == nil {
		return domain.User{}, errors.New("context is required")
	}

	user, err := r.register(ctx, in)
	r.metrics.ObserveRegistration(outcome(err))

	switch {
	case err == nil:
		r.logger.WithFields(logging.Recipient{
			UserID: user.ID.Hex(),
			Email:  user.Email,
		}.Fields()).WithField("event", "user_registered").Info("registered new user")
	case domain.IsClientError(err):
		r.logger.WithFields(logging.Fields{
			"event": "registration_rejected",
			"email": strings.TrimSpace(in.Email),
		}).WithError(err).Debug("registration rejected")
	default:
		r.logger.WithFields(logging.Fields{
			"event": "registration_error",
			"email": strings.TrimSpace(in.Email),
		}).WithError(err).Error("registration failed")
	}

	return user, err
}

func (r *Registrar) register(ctx context.Context, in Input) (domain.User, error) {
	in = normalize(in)

	if in.Username == "" || in.Email == "" || in.DateOfBirth == "" {
		return domain.User{}, domain.ErrValidation
	}
	if err := r.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return domain.User{}, domain.ErrInvalidEmail
		}
		return domain.User{}, fmt.Errorf("validate input: %w", err)
	}

	dob, err := ParseDateOfBirth(in.DateOfBirth, r.now())
	if err != nil {
		return domain.User{}, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	_, err = r.users.GetByEmail(lookupCtx, in.Email)
	cancel()
	switch {
	case err == nil:
		return domain.User{}, domain.ErrDuplicate
	case !errors.Is(err, domain.ErrNotFound):
		return domain.User{}, wrapStorage("lookup user", err)
	}

	createCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	created, err := r.users.Create(createCtx, domain.User{
		Username:    in.Username,
		Email:       in.Email,
		DateOfBirth: dob,
	})
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return domain.User{}, domain.ErrDuplicate
		}
		return domain.User{}, wrapStorage("create user", err)
	}

	return created, nil
}

// ParseDateOfBirth accepts YYYY-MM-DD or RFC 3339 and returns UTC midnight of
// the calendar date as written. Dates after now are rejected.
func ParseDateOfBirth(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)

	var year int
	var month time.Month
	var day int

	if parsed, err := time.Parse(domain.DateLayout, raw); err == nil {
		year, month, day = parsed.Date()
	} else if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		year, month, day = parsed.Date()
	} else {
		return time.Time{}, domain.ErrInvalidDateOfBirth
	}

	dob := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if dob.After(now.UTC()) {
		return time.Time{}, domain.ErrInvalidDateOfBirth
	}

	return dob, nil
}

func normalize(in Input) Input {
	return Input{
		Username:    strings.TrimSpace(in.Username),
		Email:       strings.ToLower(strings.TrimSpace(in.Email)),
		DateOfBirth: strings.TrimSpace(in.DateOfBirth),
	}
}

func wrapStorage(op string, err error) error {
	if errors.Is(err, domain.ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorage, err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.RegistrationCreated
	case errors.Is(err, domain.ErrDuplicate):
		return metrics.RegistrationDuplicate
	case domain.IsClientError(err):
		return metrics.RegistrationInvalid
	default:
		return metrics.RegistrationError
	}
}
