package impl

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"time"

	"auth/internal/domain"
	"auth/internal/observability/metrics"

	"golang.org/x/crypto/argon2"
)

const DefaultMaxPasswordLength = 1024

type Argon2Params struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB (e.g., 64*1024 = 64MB)
	Threads uint8  // parallelism
	KeyLen  uint32 // bytes
	SaltLen uint32 // bytes
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:    2,
		Memory:  64 * 1024, // 64 MiB
		Threads: 1,
		KeyLen:  32,
		SaltLen: 16,
	}
}

type PasswordServiceImpl struct {
	cur         Argon2Params // current policy used for new hashes
	maxPassword int
	limiter     *derivationLimiter
	burnSalt    []byte
}

type PasswordOption func(*PasswordServiceImpl)

// WithMaxPasswordLength bounds accepted passwords in bytes.
func WithMaxPasswordLength(n int) PasswordOption {
	return func(p *PasswordServiceImpl) {
		if n > 0 {
			p.maxPassword = n
		}
	}
}

// WithMaxConcurrentDerivations caps parallel derivations; n <= 0 means NumCPU.
func WithMaxConcurrentDerivations(n int) PasswordOption {
	return func(p *PasswordServiceImpl) {
		p.limiter = newDerivationLimiter(n)
	}
}

func NewPasswordServiceArgon2id(params Argon2Params, opts ...PasswordOption) (*PasswordServiceImpl, error) {
	// Upper bounds match what decodeArgon2id accepts, otherwise new records
	// would be unreadable.
	if params.Time == 0 || params.Time > maxStoredTime ||
		params.Threads == 0 ||
		params.Memory < 8*uint32(params.Threads) || params.Memory > maxStoredMemoryKiB {
		return nil, fmt.Errorf("invalid argon2id parameters: %+v", params)
	}
	if params.SaltLen < minStoredSaltLen || params.KeyLen < minStoredKeyLen || params.KeyLen > maxStoredKeyLen {
		return nil, fmt.Errorf("invalid argon2id lengths: salt=%d key=%d", params.SaltLen, params.KeyLen)
	}
	p := &PasswordServiceImpl{
		cur:         params,
		maxPassword: DefaultMaxPasswordLength,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.limiter == nil {
		p.limiter = newDerivationLimiter(0)
	}
	p.burnSalt = make([]byte, params.SaltLen)
	if _, err := rand.Read(p.burnSalt); err != nil {
		return nil, fmt.Errorf("read burn salt: %w", err)
	}
	return p, nil
}

func (p *PasswordServiceImpl) Params() Argon2Params { return p.cur }

func (p *PasswordServiceImpl) CheckPassword(password string) error {
	switch {
	case password == "":
		return domain.ErrEmptyPassword
	case len(password) > p.maxPassword:
		return domain.ErrPasswordTooLong
	}
	return nil
}

func (p *PasswordServiceImpl) Hash(ctx context.Context, password string) (string, error) {
	if err := p.CheckPassword(password); err != nil {
		return "", err
	}
	salt := make([]byte, p.cur.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key, err := p.derive(ctx, "hash", password, salt, p.cur)
	if err != nil {
		return "", err
	}
	return encodeArgon2id(p.cur, salt, key), nil
}

// Verify re-derives with the parameters embedded in encoded, not the current
// policy, so records created under older costs keep verifying.
func (p *PasswordServiceImpl) Verify(ctx context.Context, password, encoded string) (bool, error) {
	stored, salt, want, err := decodeArgon2id(encoded)
	if err != nil {
		return false, err
	}
	if err := p.CheckPassword(password); err != nil {
		return false, err
	}
	got, err := p.derive(ctx, "verify", password, salt, stored)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (p *PasswordServiceImpl) NeedsRehash(encoded string) bool {
	stored, _, _, err := decodeArgon2id(encoded)
	if err != nil {
		return true
	}
	return stored != p.cur
}

func (p *PasswordServiceImpl) Burn(ctx context.Context, password string) {
	if len(password) > p.maxPassword {
		password = password[:p.maxPassword]
	}
	_, _ = p.derive(ctx, "burn", password, p.burnSalt, p.cur)
}

// derive runs argon2id under the limiter. The derivation cannot be
// interrupted, so on cancellation the caller returns early and the goroutine
// finishes in the background still holding its slot.
func (p *PasswordServiceImpl) derive(ctx context.Context, op, password string, salt []byte, params Argon2Params) ([]byte, error) {
	if err := p.limiter.acquire(ctx); err != nil {
		return nil, err
	}
	done := make(chan []byte, 1)
	go func() {
		defer p.limiter.release()
		start := time.Now()
		key := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLen)
		metrics.PasswordHashDurationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
		done <- key
	}()
	select {
	case key := <-done:
		return key, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
