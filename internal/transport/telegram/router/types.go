package router

import (
	"context"
	"time"

	"sigrelay/internal/auth"
	"sigrelay/internal/relay"
	"sigrelay/internal/storage"
	kit "sigrelay/internal/transport"
	logx "sigrelay/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessTenant requires an authenticated tenant.
	AccessTenant
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// CallbackHandlerFunc handles an inline button press. payload is the text
// after "<prefix>:" in the callback data.
type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	Username string
	Command  string
	Args     []string
	// Text is the raw message text (login input for plain messages).
	Text      string
	MessageID int
	ReqID     string

	// Tenant is loaded (and its handle refreshed) before the handler runs.
	Tenant storage.Tenant

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends HTML text to the request chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// AuthPort is the login state machine as seen by the command surface.
type AuthPort interface {
	Start(ctx context.Context, tenantID int64) (auth.State, error)
	Submit(ctx context.Context, tenantID int64, input string) (auth.Step, error)
	Pending(tenantID int64) (auth.State, bool)
	Cancel(tenantID int64) bool
}

// RelayPort controls tenant listeners.
type RelayPort interface {
	Add(tenantID int64) error
	Remove(tenantID int64) bool
	Session(tenantID int64) (relay.Session, bool)
	Snapshot() relay.Snapshot
}

type Deps struct {
	Store storage.Store
	Auth  AuthPort
	Relay RelayPort

	// GroupsPerPage is the /list_groups page size (default 20).
	GroupsPerPage int
}
