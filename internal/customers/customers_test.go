package customers

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memStore struct {
	mu   sync.Mutex
	byID map[string]*Customer
}

func (m *memStore) Create(_ context.Context, c *Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.byID {
		if x.Email == c.Email {
			return ErrEmailTaken
		}
	}
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) GetByEmail(_ context.Context, email string) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byID {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) SetPassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].PasswordHash = hash
	return nil
}

func (m *memStore) MarkVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].Verified = true
	return nil
}

type captureNotifier struct{ codes map[string]string }

func (n *captureNotifier) SendOTP(_ context.Context, email, code string) error {
	n.codes[email] = code
	return nil
}

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis, *captureNotifier) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	n := &captureNotifier{codes: map[string]string{}}
	return &Service{
		Store:    &memStore{byID: map[string]*Customer{}},
		Codes:    &OTPStore{RDB: rdb},
		Tokens:   &Tokens{Secret: []byte("test-secret"), TTL: time.Hour},
		Notifier: n,
		Cost:     bcrypt.MinCost,
	}, mr, n
}

func TestSignUpAndSignIn(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.SignUp(ctx, SignUpInput{Name: " Asha ", Email: "Asha@Example.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", c.Email)
	assert.Equal(t, "Asha", c.Name)
	assert.NotContains(t, c.PasswordHash, "correct-horse")

	_, err = svc.SignUp(ctx, SignUpInput{Email: "asha@example.com", Password: "another-pass"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = svc.SignIn(ctx, "asha@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.SignIn(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	sess, err := svc.SignIn(ctx, "ASHA@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, c.ID, sess.Customer.ID)

	id, err := svc.Authenticate(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)

	me, err := svc.Confirm(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", me.Email)
}

func TestSignUpValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.SignUp(context.Background(), SignUpInput{Email: "not-an-email", Password: "long-enough"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.SignUp(context.Background(), SignUpInput{Email: "a@example.com", Password: "short"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOTPVerifyThenReset(t *testing.T) {
	svc, mr, n := newTestService(t)
	ctx := context.Background()
	_, err := svc.SignUp(ctx, SignUpInput{Email: "asha@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	require.ErrorIs(t, svc.SendOTP(ctx, "ghost@example.com"), ErrNotFound)
	require.NoError(t, svc.SendOTP(ctx, "asha@example.com"))
	code := n.codes["asha@example.com"]
	require.Len(t, code, 6)
	assert.Equal(t, 600*time.Second, mr.TTL("otp:asha@example.com"))

	_, err = svc.VerifyOTP(ctx, "asha@example.com", "000000x")
	assert.ErrorIs(t, err, ErrInvalidOTP)

	c, err := svc.VerifyOTP(ctx, "asha@example.com", code)
	require.NoError(t, err)
	assert.True(t, c.Verified)

	// a verified code is spent
	_, err = svc.VerifyOTP(ctx, "asha@example.com", code)
	assert.ErrorIs(t, err, ErrInvalidOTP)
	assert.ErrorIs(t, svc.ResetPassword(ctx, "asha@example.com", code, "battery-staple"), ErrInvalidOTP)

	require.NoError(t, svc.SendOTP(ctx, "asha@example.com"))
	code = n.codes["asha@example.com"]
	require.NoError(t, svc.ResetPassword(ctx, "asha@example.com", code, "battery-staple"))
	assert.False(t, mr.Exists("otp_attempts:asha@example.com"))
	assert.ErrorIs(t, svc.ResetPassword(ctx, "asha@example.com", code, "battery-staple"), ErrInvalidOTP)

	_, err = svc.SignIn(ctx, "asha@example.com", "battery-staple")
	require.NoError(t, err)
}

func TestOTPReissueReplacesAndExpires(t *testing.T) {
	svc, mr, n := newTestService(t)
	ctx := context.Background()
	_, err := svc.SignUp(ctx, SignUpInput{Email: "asha@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	require.NoError(t, svc.SendOTP(ctx, "asha@example.com"))
	first := n.codes["asha@example.com"]
	mr.FastForward(5 * time.Minute)
	require.NoError(t, svc.SendOTP(ctx, "asha@example.com"))
	second := n.codes["asha@example.com"]
	assert.Equal(t, 600*time.Second, mr.TTL("otp:asha@example.com"))
	if first != second {
		_, err = svc.VerifyOTP(ctx, "asha@example.com", first)
		assert.ErrorIs(t, err, ErrInvalidOTP)
	}

	mr.FastForward(601 * time.Second)
	_, err = svc.VerifyOTP(ctx, "asha@example.com", second)
	assert.ErrorIs(t, err, ErrInvalidOTP)
}

func TestOTPLocksOutAfterRepeatedMisses(t *testing.T) {
	svc, mr, n := newTestService(t)
	ctx := context.Background()
	_, err := svc.SignUp(ctx, SignUpInput{Email: "asha@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	require.NoError(t, svc.SendOTP(ctx, "asha@example.com"))
	code := n.codes["asha@example.com"]

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	for i := 0; i < defaultMaxAttempts; i++ {
		_, err = svc.VerifyOTP(ctx, "asha@example.com", wrong)
		require.ErrorIs(t, err, ErrInvalidOTP)
	}
	assert.Equal(t, 600*time.Second, mr.TTL("otp_attempts:asha@example.com"))

	_, err = svc.VerifyOTP(ctx, "asha@example.com", code)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.ErrorIs(t, svc.ResetPassword(ctx, "asha@example.com", code, "battery-staple"), ErrTooManyAttempts)

	// a new code does not lift the lockout
	require.NoError(t, svc.SendOTP(ctx, "asha@example.com"))
	_, err = svc.VerifyOTP(ctx, "asha@example.com", n.codes["asha@example.com"])
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	mr.FastForward(601 * time.Second)
	require.NoError(t, svc.SendOTP(ctx, "asha@example.com"))
	c, err := svc.VerifyOTP(ctx, "asha@example.com", n.codes["asha@example.com"])
	require.NoError(t, err)
	assert.True(t, c.Verified)
}

func TestTokens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tk := &Tokens{Secret: []byte("s3cret"), TTL: time.Hour, Clock: func() time.Time { return now }}

	tok, exp, err := tk.Issue("cust-1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), exp)

	id, err := tk.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", id)

	now = now.Add(2 * time.Hour)
	_, err = tk.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := &Tokens{Secret: []byte("other"), TTL: time.Hour}
	forged, _, err := other.Issue("cust-1")
	require.NoError(t, err)
	_, err = tk.Parse(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tk.Parse(strings.Repeat("x", 10))
	assert.ErrorIs(t, err, ErrInvalidToken)
}
