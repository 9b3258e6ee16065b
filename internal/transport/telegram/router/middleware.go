package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"sigrelay/internal/storage"
	logx "sigrelay/pkg/logx"
)

// errDenied stops the chain after the user was told why.
var errDenied = errors.New("router: access denied")

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs the outcome. Arguments are never logged; they may carry
// phone numbers or login codes.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.String("cmd", req.Command),
				logx.Int("argc", len(req.Args)),
				logx.Duration("dur", d),
			}
			switch {
			case errors.Is(err, errDenied):
				logger.Debug("request denied", fields...)
				return nil
			case err != nil:
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				logger.Info("request ok", fields...)
			default:
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWTenant records first contact, refreshes the username and loads the
// tenant into the request.
func MWTenant(store storage.Store) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			t, err := store.GetOrCreateTenant(ctx, req.FromID, req.Username)
			if err != nil {
				_ = req.Reply(ctx, msgInternalError)
				return fmt.Errorf("load tenant: %w", err)
			}
			req.Tenant = t
			return next(ctx, req)
		}
	}
}

// MWAccess enforces the command's access level.
func MWAccess(access Access, owners func() []int64) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			switch access {
			case AccessOwnerOnly:
				if !slices.Contains(owners(), req.FromID) {
					_ = req.Reply(ctx, msgOwnerOnly)
					return errDenied
				}
			case AccessTenant:
				if req.Tenant.Status != storage.StatusAuthenticated {
					_ = req.Reply(ctx, msgNotLoggedIn)
					return errDenied
				}
			}
			return next(ctx, req)
		}
	}
}
