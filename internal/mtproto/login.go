package mtproto

import (
	"context"
	"errors"
	"sync"

	"github.com/gotd/td/telegram"
	tgauth "github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"sigrelay/internal/auth"
)

// loginConn is one unauthenticated connection driving a single login.
type loginConn struct {
	r     *runner
	store *memorySession

	mu    sync.Mutex
	phone string
	hash  string
}

var _ auth.Conn = (*loginConn)(nil)

// Begin opens a fresh connection for a login. ctx bounds its lifetime.
func (d *Dialer) Begin(ctx context.Context) (auth.Conn, error) {
	store := &memorySession{}
	client := telegram.NewClient(d.cfg.AppID, d.cfg.AppHash, d.options(store, nil))

	dctx, cancel := context.WithTimeout(ctx, d.cfg.DialTimeout)
	defer cancel()
	r, err := start(dctx, client, func(context.Context) error { return nil })
	if err != nil {
		return nil, err
	}
	c := &loginConn{r: r, store: store}
	// Tear down with the login.
	context.AfterFunc(ctx, r.close)
	return c, nil
}

func (c *loginConn) SendCode(ctx context.Context, phone string) error {
	sent, err := c.r.client.Auth().SendCode(ctx, phone, tgauth.SendCodeOptions{})
	if err != nil {
		return loginErr(err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return errors.New("mtproto: unexpected sent code response")
	}
	c.mu.Lock()
	c.phone, c.hash = phone, code.PhoneCodeHash
	c.mu.Unlock()
	return nil
}

func (c *loginConn) SignIn(ctx context.Context, code string) error {
	c.mu.Lock()
	phone, hash := c.phone, c.hash
	c.mu.Unlock()
	if hash == "" {
		return errors.New("mtproto: sign in before send code")
	}
	_, err := c.r.client.Auth().SignIn(ctx, phone, code, hash)
	return loginErr(err)
}

func (c *loginConn) Password(ctx context.Context, secret string) error {
	_, err := c.r.client.Auth().Password(ctx, secret)
	return loginErr(err)
}

func (c *loginConn) Export(ctx context.Context) ([]byte, error) {
	st, err := c.r.client.Auth().Status(ctx)
	if err != nil {
		return nil, loginErr(err)
	}
	if !st.Authorized {
		return nil, errors.New("mtproto: session not authorized")
	}
	data := c.store.Bytes()
	if len(data) == 0 {
		return nil, errors.New("mtproto: empty session")
	}
	return data, nil
}

func (c *loginConn) Close() error {
	c.r.close()
	return nil
}
