package mtproto

import (
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"sigrelay/internal/auth"
	"sigrelay/internal/delivery"
	"sigrelay/internal/relay"
	logx "sigrelay/pkg/logx"
)

func TestPeerKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		peer tg.PeerClass
		want int64
	}{
		{&tg.PeerUser{UserID: 42}, 42},
		{&tg.PeerChat{ChatID: 123}, -123},
		{&tg.PeerChannel{ChannelID: 1234567890}, -1001234567890},
	}
	for _, tt := range tests {
		if got := peerKey(tt.peer); got != tt.want {
			t.Fatalf("peerKey(%T) = %d, want %d", tt.peer, got, tt.want)
		}
	}
}

func TestParseDest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in       string
		kind     destKind
		username string
		id       int64
	}{
		{"", destSelf, "", 0},
		{"me", destSelf, "", 0},
		{"Self", destSelf, "", 0},
		{"@tradebot", destUsername, "tradebot", 0},
		{"https://t.me/tradebot", destUsername, "tradebot", 0},
		{"-1001234567890", destID, "", -1001234567890},
		{"777", destID, "", 777},
	}
	for _, tt := range tests {
		kind, username, id := parseDest(tt.in)
		if kind != tt.kind || username != tt.username || id != tt.id {
			t.Fatalf("parseDest(%q) = %v %q %d", tt.in, kind, username, id)
		}
	}
}

func TestPeerCacheEntities(t *testing.T) {
	t.Parallel()
	c := newPeerCache()
	c.addEntities(tg.Entities{
		Users:    map[int64]*tg.User{5: {ID: 5, AccessHash: 55}},
		Chats:    map[int64]*tg.Chat{9: {ID: 9}},
		Channels: map[int64]*tg.Channel{77: {ID: 77, AccessHash: 7777}},
	})
	if p, ok := c.get(5); !ok || p.(*tg.InputPeerUser).AccessHash != 55 {
		t.Fatalf("user peer = %v %v", p, ok)
	}
	if _, ok := c.get(-9); !ok {
		t.Fatalf("chat peer missing")
	}
	if p, ok := c.get(channelKey(77)); !ok || p.(*tg.InputPeerChannel).AccessHash != 7777 {
		t.Fatalf("channel peer = %v %v", p, ok)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	flood := tgerr.New(420, "FLOOD_WAIT_30")

	if d, ok := delivery.RetryAfter(sendErr(flood)); !ok || d != 30*time.Second {
		t.Fatalf("send flood = %v %v", d, ok)
	}
	if !delivery.IsFatal(sendErr(tgerr.New(400, "PEER_ID_INVALID"))) {
		t.Fatalf("PEER_ID_INVALID should be fatal")
	}
	if delivery.IsFatal(sendErr(errors.New("i/o timeout"))) {
		t.Fatalf("network error should be retryable")
	}
	if !errors.Is(sessionErr(tgerr.New(401, "SESSION_REVOKED")), relay.ErrUnauthorized) {
		t.Fatalf("SESSION_REVOKED should be unauthorized")
	}

	var fe *auth.FloodError
	if err := loginErr(flood); !errors.As(err, &fe) || fe.Wait != 30*time.Second {
		t.Fatalf("login flood = %v", err)
	}
	if !errors.Is(loginErr(tgerr.New(400, "PHONE_CODE_INVALID")), auth.ErrCodeRejected) {
		t.Fatalf("PHONE_CODE_INVALID should map to ErrCodeRejected")
	}
	if !errors.Is(loginErr(tgerr.New(400, "PHONE_NUMBER_INVALID")), auth.ErrInvalidPhone) {
		t.Fatalf("PHONE_NUMBER_INVALID should map to ErrInvalidPhone")
	}
}

func TestNewDialerRequiresCredentials(t *testing.T) {
	t.Parallel()
	if _, err := NewDialer(Config{}, logx.Nop()); err == nil {
		t.Fatalf("expected error without api credentials")
	}
}
