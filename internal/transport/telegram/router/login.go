package router

import (
	"context"
	"errors"
	"fmt"

	"sigrelay/internal/auth"
	"sigrelay/internal/storage"
)

func (r *Router) cmdLogin(ctx context.Context, req *Request) error {
	if req.Tenant.Status == storage.StatusAuthenticated {
		return req.Reply(ctx, msgAlreadyLoggedIn)
	}
	_, err := r.deps.Auth.Start(ctx, req.FromID)
	switch {
	case errors.Is(err, auth.ErrAlreadyLoggedIn):
		return req.Reply(ctx, msgAlreadyLoggedIn)
	case errors.Is(err, auth.ErrLoginInFlight):
		return req.Reply(ctx, msgLoginInFlight)
	case err != nil:
		_ = req.Reply(ctx, msgInternalError)
		return fmt.Errorf("start login: %w", err)
	}
	return req.Reply(ctx, msgAskPhone)
}

func (r *Router) cmdCancel(ctx context.Context, req *Request) error {
	if r.deps.Auth.Cancel(req.FromID) {
		return req.Reply(ctx, msgLoginCancelled)
	}
	return req.Reply(ctx, msgNoLogin)
}

// handleLoginInput feeds a plain message to the tenant's pending login.
func (r *Router) handleLoginInput(ctx context.Context, req *Request) error {
	step, err := r.deps.Auth.Submit(ctx, req.FromID, req.Text)
	reply := loginReply(step, err)
	if reply == "" {
		return nil
	}
	if rerr := req.Reply(ctx, reply); rerr != nil {
		return rerr
	}
	// Validation and rejection errors are normal conversation, not failures.
	if step.State == auth.Failed {
		return err
	}
	return nil
}

// loginReply maps a Submit outcome to the message shown to the user.
func loginReply(step auth.Step, err error) string {
	var fe *auth.FloodError
	switch {
	case errors.Is(err, auth.ErrNoLogin):
		return ""
	case errors.Is(err, auth.ErrInvalidPhone):
		return msgInvalidPhone
	case errors.Is(err, auth.ErrInvalidCode):
		return msgInvalidCode
	case errors.Is(err, auth.ErrEmptyPassword):
		return msgEmptyPassword
	case step.State == auth.AwaitingOTP && errors.Is(err, auth.ErrCodeRejected):
		return fmt.Sprintf(msgCodeRejected, step.AttemptsLeft)
	case step.State == auth.AwaitingPassword && errors.Is(err, auth.ErrPasswordRejected):
		return fmt.Sprintf(msgWrongPassword, step.AttemptsLeft)
	case errors.As(err, &fe) || step.Wait > 0:
		wait := step.Wait
		if fe != nil && fe.Wait > wait {
			wait = fe.Wait
		}
		return fmt.Sprintf(msgLoginFlood, wait)
	case errors.Is(err, auth.ErrCodeExpired):
		return msgLoginExpired
	case err != nil:
		return msgLoginFailed
	}
	switch step.State {
	case auth.AwaitingOTP:
		return msgCodeSent
	case auth.AwaitingPassword:
		return msgAskPassword
	case auth.Authenticated:
		return msgLoginSuccess
	case auth.Failed:
		return msgLoginFailed
	}
	return ""
}

// LoginTimedOut tells a tenant its pending login expired.
func (r *Router) LoginTimedOut(ctx context.Context, tenantID int64) {
	r.Notify(ctx, tenantID, msgLoginTimeout)
}

// SessionDemoted tells a tenant its listener stopped. revoked reports whether
// the credential was invalidated by the network.
func (r *Router) SessionDemoted(ctx context.Context, tenantID int64, revoked bool) {
	if revoked {
		r.Notify(ctx, tenantID, msgSessionRevoked)
		return
	}
	r.Notify(ctx, tenantID, msgSessionDown)
}
