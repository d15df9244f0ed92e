package auth

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var (
	// ErrInvalidCode is returned for a code that is not exactly four digits.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrTooManyRequests is returned when a phone exceeds the OTP request
	// quota.
	ErrTooManyRequests = errors.New("too many verification requests")
)

// OtpProvider abstracts the SMS verification backend so a real gateway can
// replace the stub without touching the handlers.
type OtpProvider interface {
	RequestOTP(ctx context.Context, phone string) error
	VerifyOTP(ctx context.Context, phone, code string) error
}

// StubOtpProvider logs codes instead of sending SMS. Verification accepts
// any four-digit code, which is the intended demo behavior, but request
// volume per phone is still limited to keep the endpoint from being used as
// an SMS cannon once a real gateway is plugged in.
type StubOtpProvider struct {
	mu       sync.Mutex
	requests map[string][]time.Time

	limit  int
	window time.Duration
}

// NewStubOtpProvider allows 3 OTP requests per phone per 5 minutes.
func NewStubOtpProvider() *StubOtpProvider {
	return &StubOtpProvider{
		requests: make(map[string][]time.Time),
		limit:    3,
		window:   5 * time.Minute,
	}
}

func (p *StubOtpProvider) RequestOTP(ctx context.Context, phone string) error {
	now := time.Now()
	cutoff := now.Add(-p.window)

	p.mu.Lock()
	recent := p.requests[phone][:0]
	for _, t := range p.requests[phone] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= p.limit {
		p.requests[phone] = recent
		p.mu.Unlock()
		return ErrTooManyRequests
	}
	p.requests[phone] = append(recent, now)
	p.mu.Unlock()

	log.Printf("[OTP STUB] verification code for %s: 0000 (any 4 digits accepted)", phone)
	return nil
}

func (p *StubOtpProvider) VerifyOTP(ctx context.Context, phone, code string) error {
	if len(code) != 4 {
		return ErrInvalidCode
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return ErrInvalidCode
		}
	}
	return nil
}
