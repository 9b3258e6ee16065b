package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sigrelay/internal/storage"
	logx "sigrelay/pkg/logx"
)

type fakeConn struct {
	mu        sync.Mutex
	sendErr   error
	signIn    []error
	password  []error
	phone     string
	closed    bool
	signCalls int
	pwCalls   int

	// signGate, when set, holds SignIn until it is closed. signEntered
	// is closed once SignIn is waiting on it.
	signGate    chan struct{}
	signEntered chan struct{}
}

func (c *fakeConn) SendCode(_ context.Context, phone string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phone = phone
	return c.sendErr
}

func (c *fakeConn) SignIn(context.Context, string) error {
	if c.signGate != nil {
		close(c.signEntered)
		<-c.signGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.signCalls
	c.signCalls++
	if i < len(c.signIn) {
		return c.signIn[i]
	}
	return nil
}

func (c *fakeConn) Password(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.pwCalls
	c.pwCalls++
	if i < len(c.password) {
		return c.password[i]
	}
	return nil
}

func (c *fakeConn) Export(context.Context) ([]byte, error) { return []byte("session:" + c.phone), nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeNet struct {
	conn  *fakeConn
	err   error
	begun int
}

func (n *fakeNet) Begin(context.Context) (Conn, error) {
	n.begun++
	if n.err != nil {
		return nil, n.err
	}
	return n.conn, nil
}

func newTestManager(t *testing.T, conn *fakeConn, opts Options) (*Manager, *storage.Memory, *fakeNet) {
	t.Helper()
	st := storage.NewMemory()
	net := &fakeNet{conn: conn}
	opts.Logger = logx.Nop()
	m := NewManager(net, st, opts)
	t.Cleanup(m.Close)
	return m, st, net
}

func mustStart(t *testing.T, m *Manager, id int64) {
	t.Helper()
	st, err := m.Start(context.Background(), id)
	if err != nil || st != AwaitingPhone {
		t.Fatalf("Start = %v, %v", st, err)
	}
}

func TestInvalidPhoneStaysAwaitingPhone(t *testing.T) {
	t.Parallel()
	m, _, net := newTestManager(t, &fakeConn{}, Options{})
	mustStart(t, m, 1)
	for _, in := range []string{"12345", "+12ab", "+", "", "phone"} {
		step, err := m.Submit(context.Background(), 1, in)
		if !errors.Is(err, ErrInvalidPhone) || step.State != AwaitingPhone {
			t.Fatalf("Submit(%q) = %+v, %v", in, step, err)
		}
	}
	if net.begun != 0 {
		t.Fatalf("network used for invalid input")
	}
	if st, ok := m.Pending(1); !ok || st != AwaitingPhone {
		t.Fatalf("Pending = %v, %v", st, ok)
	}
}

func TestFloodOnSendCodeFails(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{sendErr: &FloodError{Wait: 42 * time.Second}}
	m, st, _ := newTestManager(t, conn, Options{})
	mustStart(t, m, 1)

	step, err := m.Submit(context.Background(), 1, "+15550001111")
	var fe *FloodError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FloodError", err)
	}
	if step.State != Failed || step.Wait != 42*time.Second {
		t.Fatalf("step = %+v", step)
	}
	if _, ok := m.Pending(1); ok {
		t.Fatalf("pending login must be discarded")
	}
	if !conn.isClosed() {
		t.Fatalf("connection not closed")
	}
	tn, _ := st.GetTenant(context.Background(), 1)
	if tn.Status != storage.StatusUnauthenticated {
		t.Fatalf("status = %s", tn.Status)
	}
	// A new login may start afterwards.
	mustStart(t, m, 1)
}

func TestCodeLoginAuthenticates(t *testing.T) {
	t.Parallel()
	var hooked int64
	conn := &fakeConn{}
	m, st, _ := newTestManager(t, conn, Options{OnAuthenticated: func(id int64) { hooked = id }})
	mustStart(t, m, 7)

	if step, err := m.Submit(context.Background(), 7, "+15550001111"); err != nil || step.State != AwaitingOTP {
		t.Fatalf("phone step = %+v, %v", step, err)
	}
	if step, err := m.Submit(context.Background(), 7, "12a45"); !errors.Is(err, ErrInvalidCode) || step.State != AwaitingOTP {
		t.Fatalf("bad code step = %+v, %v", step, err)
	}
	step, err := m.Submit(context.Background(), 7, "1 2 3 4 5")
	if err != nil || step.State != Authenticated {
		t.Fatalf("code step = %+v, %v", step, err)
	}
	cred, ok, _ := st.GetCredential(context.Background(), 7)
	if !ok || string(cred) != "session:+15550001111" {
		t.Fatalf("credential = %q %v", cred, ok)
	}
	tn, _ := st.GetTenant(context.Background(), 7)
	if tn.Status != storage.StatusAuthenticated {
		t.Fatalf("status = %s", tn.Status)
	}
	if hooked != 7 {
		t.Fatalf("OnAuthenticated not called")
	}
	if _, err := m.Start(context.Background(), 7); !errors.Is(err, ErrAlreadyLoggedIn) {
		t.Fatalf("Start after login err = %v", err)
	}
}

func TestStaleCredentialDoesNotBlockLogin(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{}
	m, st, _ := newTestManager(t, conn, Options{})
	ctx := context.Background()
	// State left behind by a demotion after transient failures.
	_, _ = st.GetOrCreateTenant(ctx, 9, "")
	_ = st.PutCredential(ctx, 9, []byte("old"))
	_ = st.SetStatus(ctx, 9, storage.StatusUnauthenticated)

	mustStart(t, m, 9)
	_, _ = m.Submit(ctx, 9, "+15550002222")
	if step, err := m.Submit(ctx, 9, "12345"); err != nil || step.State != Authenticated {
		t.Fatalf("code step = %+v, %v", step, err)
	}
	cred, ok, _ := st.GetCredential(ctx, 9)
	if !ok || string(cred) != "session:+15550002222" {
		t.Fatalf("credential = %q %v, want replaced", cred, ok)
	}
}

func TestSecondFactor(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{signIn: []error{ErrPasswordNeeded}, password: []error{ErrPasswordRejected}}
	m, _, _ := newTestManager(t, conn, Options{})
	mustStart(t, m, 3)
	_, _ = m.Submit(context.Background(), 3, "+15550001111")

	step, err := m.Submit(context.Background(), 3, "11111")
	if err != nil || step.State != AwaitingPassword {
		t.Fatalf("code step = %+v, %v", step, err)
	}
	step, err = m.Submit(context.Background(), 3, "wrong")
	if !errors.Is(err, ErrPasswordRejected) || step.State != AwaitingPassword || step.AttemptsLeft != 2 {
		t.Fatalf("wrong password step = %+v, %v", step, err)
	}
	step, err = m.Submit(context.Background(), 3, "hunter2")
	if err != nil || step.State != Authenticated {
		t.Fatalf("password step = %+v, %v", step, err)
	}
}

func TestCodeRejectedUpToMaxAttempts(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{signIn: []error{ErrCodeRejected, ErrCodeRejected, ErrCodeRejected}}
	m, _, _ := newTestManager(t, conn, Options{MaxAttempts: 3})
	mustStart(t, m, 4)
	_, _ = m.Submit(context.Background(), 4, "+15550001111")

	for want := 2; want >= 1; want-- {
		step, err := m.Submit(context.Background(), 4, "00000")
		if !errors.Is(err, ErrCodeRejected) || step.State != AwaitingOTP || step.AttemptsLeft != want {
			t.Fatalf("step = %+v, %v (want %d left)", step, err, want)
		}
	}
	step, err := m.Submit(context.Background(), 4, "00000")
	if !errors.Is(err, ErrCodeRejected) || step.State != Failed {
		t.Fatalf("final step = %+v, %v", step, err)
	}
}

func TestConcurrentLoginRejected(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t, &fakeConn{}, Options{})
	mustStart(t, m, 5)
	if _, err := m.Start(context.Background(), 5); !errors.Is(err, ErrLoginInFlight) {
		t.Fatalf("err = %v, want ErrLoginInFlight", err)
	}
	// Other tenants are independent.
	mustStart(t, m, 6)
}

func TestTimeout(t *testing.T) {
	t.Parallel()
	timedOut := make(chan int64, 1)
	conn := &fakeConn{}
	m, st, _ := newTestManager(t, conn, Options{
		Timeout:   30 * time.Millisecond,
		OnTimeout: func(id int64) { timedOut <- id },
	})
	mustStart(t, m, 8)
	if _, err := m.Submit(context.Background(), 8, "+15550001111"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case id := <-timedOut:
		if id != 8 {
			t.Fatalf("timeout for tenant %d", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("login did not time out")
	}
	if _, ok := m.Pending(8); ok {
		t.Fatalf("pending login survived timeout")
	}
	if !conn.isClosed() {
		t.Fatalf("connection not torn down")
	}
	if _, err := m.Submit(context.Background(), 8, "12345"); !errors.Is(err, ErrNoLogin) {
		t.Fatalf("Submit after timeout err = %v", err)
	}
	tn, _ := st.GetTenant(context.Background(), 8)
	if tn.Status != storage.StatusUnauthenticated {
		t.Fatalf("status = %s", tn.Status)
	}
}

func TestCompletionRacingTimeoutKeepsLogin(t *testing.T) {
	t.Parallel()
	timedOut := make(chan int64, 1)
	conn := &fakeConn{signGate: make(chan struct{}), signEntered: make(chan struct{})}
	m, st, _ := newTestManager(t, conn, Options{
		Timeout:   30 * time.Millisecond,
		OnTimeout: func(id int64) { timedOut <- id },
	})
	mustStart(t, m, 12)
	if _, err := m.Submit(context.Background(), 12, "+15550001111"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := make(chan Step, 1)
	go func() {
		step, _ := m.Submit(context.Background(), 12, "12345")
		done <- step
	}()
	<-conn.signEntered
	// The timer fires while the code is being checked.
	detached := func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.pending[12] == nil
	}
	deadline := time.Now().Add(2 * time.Second)
	for !detached() {
		if time.Now().After(deadline) {
			t.Fatalf("timer never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(conn.signGate)

	if step := <-done; step.State != Authenticated {
		t.Fatalf("code step = %+v", step)
	}
	select {
	case id := <-timedOut:
		t.Fatalf("OnTimeout(%d) called after a completed login", id)
	case <-time.After(100 * time.Millisecond):
	}
	tn, _ := st.GetTenant(context.Background(), 12)
	if tn.Status != storage.StatusAuthenticated {
		t.Fatalf("status = %s, want authenticated", tn.Status)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t, &fakeConn{}, Options{})
	if m.Cancel(9) {
		t.Fatalf("Cancel without login reported true")
	}
	mustStart(t, m, 9)
	if !m.Cancel(9) {
		t.Fatalf("Cancel reported false")
	}
	if _, ok := m.Pending(9); ok {
		t.Fatalf("login still pending")
	}
}

func TestBeginFailureFails(t *testing.T) {
	t.Parallel()
	m, _, net := newTestManager(t, &fakeConn{}, Options{})
	net.err = errors.New("dial failed")
	mustStart(t, m, 10)
	step, err := m.Submit(context.Background(), 10, "+15550001111")
	if err == nil || step.State != Failed {
		t.Fatalf("step = %+v, %v", step, err)
	}
}
