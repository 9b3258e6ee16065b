package mtproto

import (
	"errors"
	"fmt"

	tgauth "github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"sigrelay/internal/auth"
	"sigrelay/internal/delivery"
	"sigrelay/internal/relay"
)

var unauthorizedTypes = []string{
	"AUTH_KEY_UNREGISTERED",
	"AUTH_KEY_INVALID",
	"AUTH_KEY_PERM_EMPTY",
	"SESSION_REVOKED",
	"SESSION_EXPIRED",
	"USER_DEACTIVATED",
	"USER_DEACTIVATED_BAN",
}

var permanentSendTypes = []string{
	"PEER_ID_INVALID",
	"USERNAME_INVALID",
	"USERNAME_NOT_OCCUPIED",
	"CHAT_WRITE_FORBIDDEN",
	"CHAT_ADMIN_REQUIRED",
	"CHANNEL_PRIVATE",
	"CHANNEL_INVALID",
	"USER_IS_BLOCKED",
	"USER_IS_BOT",
	"INPUT_USER_DEACTIVATED",
	"MESSAGE_TOO_LONG",
}

// errUnknownPeer is returned for a numeric destination we hold no access hash for.
var errUnknownPeer = errors.New("mtproto: unknown peer")

func isUnauthorized(err error) bool {
	return err != nil && tgerr.Is(err, unauthorizedTypes...)
}

// sessionErr maps a connection-level error for the relay supervisor.
func sessionErr(err error) error {
	if err == nil {
		return nil
	}
	if isUnauthorized(err) {
		return fmt.Errorf("%w: %v", relay.ErrUnauthorized, err)
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &delivery.FloodError{Wait: d, Err: err}
	}
	return err
}

// sendErr maps an error from an outbound message.
func sendErr(err error) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &delivery.FloodError{Wait: d, Err: err}
	}
	if isUnauthorized(err) || errors.Is(err, errUnknownPeer) || tgerr.Is(err, permanentSendTypes...) {
		return delivery.Permanent(err)
	}
	return err
}

// loginErr maps an error from the login flow.
func loginErr(err error) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &auth.FloodError{Wait: d, Err: err}
	}
	switch {
	case errors.Is(err, tgauth.ErrPasswordAuthNeeded):
		return auth.ErrPasswordNeeded
	case errors.Is(err, tgauth.ErrPasswordInvalid), tgerr.Is(err, "PASSWORD_HASH_INVALID"):
		return fmt.Errorf("%w: %v", auth.ErrPasswordRejected, err)
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"):
		return fmt.Errorf("%w: %v", auth.ErrCodeRejected, err)
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return fmt.Errorf("%w: %v", auth.ErrCodeExpired, err)
	case tgerr.Is(err, "PHONE_NUMBER_INVALID", "PHONE_NUMBER_BANNED", "PHONE_NUMBER_UNOCCUPIED"):
		return fmt.Errorf("%w: %v", auth.ErrInvalidPhone, err)
	}
	var signUp *tgauth.SignUpRequired
	if errors.As(err, &signUp) {
		return errors.New("this phone number has no account")
	}
	return err
}
