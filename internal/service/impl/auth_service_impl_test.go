package impl

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"auth/internal/domain"
	"auth/internal/service"
	"auth/internal/store"

	"golang.org/x/sync/errgroup"
)

// failingStore wraps a memory store and injects errors per operation.
type failingStore struct {
	*store.MemoryCredentialStore
	lookupErr  error
	insertErr  error
	replaceErr error
	deleteErr  error
	listErr    error

	lookups atomic.Int32
	inserts atomic.Int32
}

func newFailingStore() *failingStore {
	return &failingStore{MemoryCredentialStore: store.NewMemoryCredentialStore()}
}

func (f *failingStore) Lookup(ctx context.Context, username string) (*domain.Credential, error) {
	f.lookups.Add(1)
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.MemoryCredentialStore.Lookup(ctx, username)
}

func (f *failingStore) Insert(ctx context.Context, c *domain.Credential) error {
	f.inserts.Add(1)
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.MemoryCredentialStore.Insert(ctx, c)
}

func (f *failingStore) Replace(ctx context.Context, username, previous, next string) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	return f.MemoryCredentialStore.Replace(ctx, username, previous, next)
}

func (f *failingStore) Delete(ctx context.Context, username string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.MemoryCredentialStore.Delete(ctx, username)
}

func (f *failingStore) List(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.MemoryCredentialStore.List(ctx)
}

// stubPasswordService records calls and delegates to a real service.
type stubPasswordService struct {
	real     *PasswordServiceImpl
	hashFunc func(ctx context.Context, password string) (string, error)

	mu          sync.Mutex
	hashCalls   []string
	verifyCalls []string
	burnCalls   int
}

func (s *stubPasswordService) CheckPassword(password string) error {
	return s.real.CheckPassword(password)
}

func (s *stubPasswordService) Hash(ctx context.Context, password string) (string, error) {
	s.mu.Lock()
	s.hashCalls = append(s.hashCalls, password)
	s.mu.Unlock()
	if s.hashFunc != nil {
		return s.hashFunc(ctx, password)
	}
	return s.real.Hash(ctx, password)
}

func (s *stubPasswordService) Verify(ctx context.Context, password, encoded string) (bool, error) {
	s.mu.Lock()
	s.verifyCalls = append(s.verifyCalls, password)
	s.mu.Unlock()
	return s.real.Verify(ctx, password, encoded)
}

func (s *stubPasswordService) NeedsRehash(encoded string) bool {
	return s.real.NeedsRehash(encoded)
}

func (s *stubPasswordService) Burn(ctx context.Context, password string) {
	s.mu.Lock()
	s.burnCalls++
	s.mu.Unlock()
	s.real.Burn(ctx, password)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAuthService(t *testing.T, st service.CredentialStore) (*AuthServiceImpl, *stubPasswordService) {
	t.Helper()
	ps := &stubPasswordService{real: newTestPasswordService(t)}
	return NewAuthServiceImpl(st, ps, quietLogger()), ps
}

func TestAuthServiceScenario(t *testing.T) {
	svc, _ := newTestAuthService(t, store.NewMemoryCredentialStore())
	ctx := context.Background()

	if err := svc.Register(ctx, "alice", "Secr3t!"); err != nil {
		t.Fatalf("register alice: %v", err)
	}
	if ok, err := svc.Login(ctx, "alice", "Secr3t!"); err != nil || !ok {
		t.Fatalf("expected alice login to succeed, ok=%v err=%v", ok, err)
	}
	if ok, err := svc.Login(ctx, "alice", "wrong"); err != nil || ok {
		t.Fatalf("expected wrong password to fail, ok=%v err=%v", ok, err)
	}
	if ok, err := svc.Login(ctx, "bob", "anything"); err != nil || ok {
		t.Fatalf("expected unknown user to fail, ok=%v err=%v", ok, err)
	}
	if err := svc.Register(ctx, "alice", "other"); !errors.Is(err, domain.ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}
}

func TestAuthServiceRegisterPersistsEncodedSecret(t *testing.T) {
	st := store.NewMemoryCredentialStore()
	svc, ps := newTestAuthService(t, st)
	ctx := context.Background()

	if err := svc.Register(ctx, "carol", "hunter22"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(ps.hashCalls) != 1 || ps.hashCalls[0] != "hunter22" {
		t.Fatalf("expected one hash call with the password, got %v", ps.hashCalls)
	}
	cred, err := st.Lookup(ctx, "carol")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if strings.Contains(cred.EncodedSecret, "hunter22") {
		t.Fatalf("plaintext leaked into stored secret")
	}
	if !strings.HasPrefix(cred.EncodedSecret, "$argon2id$") {
		t.Fatalf("unexpected encoded secret %q", cred.EncodedSecret)
	}
	if cred.ID.String() == "" || cred.CreatedAt.IsZero() {
		t.Fatalf("credential metadata not populated: %+v", cred)
	}
}

func TestAuthServiceRegisterValidations(t *testing.T) {
	st := newFailingStore()
	svc, ps := newTestAuthService(t, st)
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{name: "missing username", username: "", password: "hunter22", want: domain.ErrEmptyUsername},
		{name: "missing password", username: "alice", password: "", want: domain.ErrEmptyPassword},
		{name: "long username", username: strings.Repeat("u", DefaultMaxUsernameLength+1), password: "hunter22", want: domain.ErrUsernameTooLong},
		{name: "long password", username: "alice", password: strings.Repeat("p", DefaultMaxPasswordLength+1), want: domain.ErrPasswordTooLong},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Register(ctx, tc.username, tc.password)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected error to match ErrInvalidInput, got %v", err)
			}
		})
	}
	if len(ps.hashCalls) != 0 {
		t.Fatalf("invalid input must not be hashed, got %d calls", len(ps.hashCalls))
	}
	if st.lookups.Load() != 0 || st.inserts.Load() != 0 {
		t.Fatalf("invalid input must not reach the store")
	}
}

func TestAuthServiceRegisterDuplicateSkipsHashing(t *testing.T) {
	svc, ps := newTestAuthService(t, store.NewMemoryCredentialStore())
	ctx := context.Background()

	if err := svc.Register(ctx, "dave", "first-pass"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.Register(ctx, "dave", "second-pass"); !errors.Is(err, domain.ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}
	if len(ps.hashCalls) != 1 {
		t.Fatalf("expected duplicate registration to skip hashing, got %d hash calls", len(ps.hashCalls))
	}
	if ok, _ := svc.Login(ctx, "dave", "first-pass"); !ok {
		t.Fatalf("original credential must not be overwritten")
	}
}

func TestAuthServiceRegisterConflictOnInsert(t *testing.T) {
	st := newFailingStore()
	st.insertErr = store.ErrConflict
	svc, _ := newTestAuthService(t, st)

	if err := svc.Register(context.Background(), "erin", "pw"); !errors.Is(err, domain.ErrDuplicateIdentity) {
		t.Fatalf("expected conflict on insert to map to ErrDuplicateIdentity, got %v", err)
	}
}

func TestAuthServiceConcurrentRegisterSameUsername(t *testing.T) {
	st := store.NewMemoryCredentialStore()
	svc, _ := newTestAuthService(t, st)
	ctx := context.Background()

	const attempts = 8
	var succeeded, duplicates atomic.Int32
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			err := svc.Register(ctx, "frank", "pw")
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrDuplicateIdentity):
				duplicates.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if succeeded.Load() != 1 || duplicates.Load() != attempts-1 {
		t.Fatalf("expected 1 success and %d duplicates, got %d and %d", attempts-1, succeeded.Load(), duplicates.Load())
	}
	if st.Len() != 1 {
		t.Fatalf("expected exactly one stored credential, got %d", st.Len())
	}
}

func TestAuthServiceRegisterStoreUnavailable(t *testing.T) {
	st := newFailingStore()
	st.lookupErr = errors.New("connection refused")
	svc, ps := newTestAuthService(t, st)

	err := svc.Register(context.Background(), "gina", "pw")
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(ps.hashCalls) != 0 {
		t.Fatalf("expected no hashing when the store is down")
	}

	st.lookupErr = nil
	st.insertErr = errors.New("write timeout")
	if err := svc.Register(context.Background(), "gina", "pw"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable on insert failure, got %v", err)
	}
}

func TestAuthServiceRegisterCancelledBeforeWrite(t *testing.T) {
	st := newFailingStore()
	svc, ps := newTestAuthService(t, st)
	ctx, cancel := context.WithCancel(context.Background())
	ps.hashFunc = func(_ context.Context, password string) (string, error) {
		encoded, err := ps.real.Hash(context.Background(), password)
		cancel()
		return encoded, err
	}

	if err := svc.Register(ctx, "hank", "pw"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if st.inserts.Load() != 0 || st.Len() != 0 {
		t.Fatalf("cancelled registration must not write")
	}
}

func TestAuthServiceLoginUnknownUserBurnsDerivation(t *testing.T) {
	svc, ps := newTestAuthService(t, store.NewMemoryCredentialStore())
	ctx := context.Background()

	ok, err := svc.Login(ctx, "nobody", "pw")
	if err != nil || ok {
		t.Fatalf("expected plain failure, ok=%v err=%v", ok, err)
	}
	if ps.burnCalls != 1 {
		t.Fatalf("expected one dummy derivation, got %d", ps.burnCalls)
	}
	if len(ps.verifyCalls) != 0 {
		t.Fatalf("unexpected verify calls: %v", ps.verifyCalls)
	}
}

func TestAuthServiceLoginInvalidInputIsPlainFailure(t *testing.T) {
	svc, ps := newTestAuthService(t, store.NewMemoryCredentialStore())
	ctx := context.Background()

	for _, c := range []struct{ user, pass string }{{"", "pw"}, {"alice", ""}} {
		ok, err := svc.Login(ctx, c.user, c.pass)
		if err != nil || ok {
			t.Fatalf("expected plain failure for %+v, ok=%v err=%v", c, ok, err)
		}
	}
	if ps.burnCalls != 2 {
		t.Fatalf("expected dummy derivations for invalid input, got %d", ps.burnCalls)
	}
}

func TestAuthServiceLoginCorruptRecord(t *testing.T) {
	st := store.NewMemoryCredentialStore()
	svc, _ := newTestAuthService(t, st)
	ctx := context.Background()

	if err := st.Insert(ctx, &domain.Credential{Username: "ivan", EncodedSecret: "deadbeef$cafebabe"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ok, err := svc.Login(ctx, "ivan", "pw")
	if ok {
		t.Fatalf("corrupt record must not authenticate")
	}
	if !errors.Is(err, domain.ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestAuthServiceLoginStoreUnavailable(t *testing.T) {
	st := newFailingStore()
	st.lookupErr = errors.New("i/o timeout")
	svc, _ := newTestAuthService(t, st)

	ok, err := svc.Login(context.Background(), "judy", "pw")
	if ok || !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, ok=%v err=%v", ok, err)
	}
}

func TestAuthServiceLoginRehashesOutdatedRecord(t *testing.T) {
	st := store.NewMemoryCredentialStore()
	ctx := context.Background()

	legacy := newTestPasswordService(t)
	encoded, err := legacy.Hash(ctx, "Secr3t!")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := st.Insert(ctx, &domain.Credential{Username: "kate", EncodedSecret: encoded}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	upgraded := cheapParams()
	upgraded.Time = 2
	current, err := NewPasswordServiceArgon2id(upgraded)
	if err != nil {
		t.Fatalf("new password service: %v", err)
	}
	svc := NewAuthServiceImpl(st, current, quietLogger())

	if ok, err := svc.Login(ctx, "kate", "Secr3t!"); err != nil || !ok {
		t.Fatalf("expected login to succeed, ok=%v err=%v", ok, err)
	}
	stored, err := st.Lookup(ctx, "kate")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stored.EncodedSecret == encoded {
		t.Fatalf("expected record to be rehashed")
	}
	if current.NeedsRehash(stored.EncodedSecret) {
		t.Fatalf("rehashed record should use current parameters")
	}
	if ok, err := svc.Login(ctx, "kate", "Secr3t!"); err != nil || !ok {
		t.Fatalf("expected login after rehash to succeed, ok=%v err=%v", ok, err)
	}
}

func TestAuthServiceLoginRehashFailureDoesNotFailLogin(t *testing.T) {
	st := newFailingStore()
	ctx := context.Background()

	legacy := newTestPasswordService(t)
	encoded, err := legacy.Hash(ctx, "pw")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := st.Insert(ctx, &domain.Credential{Username: "liam", EncodedSecret: encoded}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	st.replaceErr = errors.New("read-only replica")

	upgraded := cheapParams()
	upgraded.Memory = 512
	current, err := NewPasswordServiceArgon2id(upgraded)
	if err != nil {
		t.Fatalf("new password service: %v", err)
	}
	svc := NewAuthServiceImpl(st, current, quietLogger())

	if ok, err := svc.Login(ctx, "liam", "pw"); err != nil || !ok {
		t.Fatalf("expected login to succeed despite rehash failure, ok=%v err=%v", ok, err)
	}
}

func TestAuthServiceChangePassword(t *testing.T) {
	svc, _ := newTestAuthService(t, store.NewMemoryCredentialStore())
	ctx := context.Background()

	if err := svc.Register(ctx, "mona", "old-pass"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.ChangePassword(ctx, "mona", "wrong", "new-pass"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong current password, got %v", err)
	}
	if err := svc.ChangePassword(ctx, "nobody", "old-pass", "new-pass"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
	if err := svc.ChangePassword(ctx, "mona", "old-pass", ""); !errors.Is(err, domain.ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword for empty new password, got %v", err)
	}
	if err := svc.ChangePassword(ctx, "mona", "old-pass", "new-pass"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if ok, _ := svc.Login(ctx, "mona", "old-pass"); ok {
		t.Fatalf("old password must stop working")
	}
	if ok, err := svc.Login(ctx, "mona", "new-pass"); err != nil || !ok {
		t.Fatalf("new password must work, ok=%v err=%v", ok, err)
	}
}

func TestAuthServiceChangePasswordStaleRecord(t *testing.T) {
	st := newFailingStore()
	svc, _ := newTestAuthService(t, st)
	ctx := context.Background()

	if err := svc.Register(ctx, "nina", "old-pass"); err != nil {
		t.Fatalf("register: %v", err)
	}
	st.replaceErr = store.ErrStaleRecord
	if err := svc.ChangePassword(ctx, "nina", "old-pass", "new-pass"); !errors.Is(err, domain.ErrCredentialChanged) {
		t.Fatalf("expected ErrCredentialChanged, got %v", err)
	}
}

func TestAuthServiceRemove(t *testing.T) {
	svc, _ := newTestAuthService(t, store.NewMemoryCredentialStore())
	ctx := context.Background()

	if err := svc.Register(ctx, "oscar", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.Remove(ctx, "oscar"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ok, _ := svc.Login(ctx, "oscar", "pw"); ok {
		t.Fatalf("removed credential must not authenticate")
	}
	if err := svc.Remove(ctx, "oscar"); !errors.Is(err, domain.ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
	if err := svc.Register(ctx, "oscar", "again"); err != nil {
		t.Fatalf("username should be reusable after removal: %v", err)
	}
}

func TestAuthServiceRemoveStoreUnavailable(t *testing.T) {
	st := newFailingStore()
	st.deleteErr = errors.New("connection reset")
	svc, _ := newTestAuthService(t, st)

	if err := svc.Remove(context.Background(), "pete"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestAuthServiceList(t *testing.T) {
	st := newFailingStore()
	svc, _ := newTestAuthService(t, st)
	ctx := context.Background()

	for _, name := range []string{"quinn", "paula", "rick"} {
		if err := svc.Register(ctx, name, "pw"); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	names, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Join(names, ",") != "paula,quinn,rick" {
		t.Fatalf("unexpected listing %v", names)
	}

	st.listErr = errors.New("connection reset")
	if _, err := svc.List(ctx); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
