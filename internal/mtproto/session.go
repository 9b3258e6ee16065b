package mtproto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/tg"

	"sigrelay/internal/relay"
	logx "sigrelay/pkg/logx"
)

// tenantSession is a live, authorized connection for one tenant.
type tenantSession struct {
	tenant int64
	r      *runner
	api    *tg.Client
	sender *message.Sender
	peers  *peerCache
	events chan relay.Event
	log    logx.Logger
}

var _ relay.Session = (*tenantSession)(nil)

// Dial restores a session from cred and subscribes to updates.
func (d *Dialer) Dial(ctx context.Context, tenantID int64, cred []byte) (relay.Session, error) {
	if len(cred) == 0 {
		return nil, fmt.Errorf("%w: empty credential", relay.ErrUnauthorized)
	}
	s := &tenantSession{
		tenant: tenantID,
		peers:  newPeerCache(),
		events: make(chan relay.Event, d.cfg.EventBuffer),
		log:    d.log.With(logx.Tenant(tenantID)),
	}
	store := &memorySession{data: append([]byte(nil), cred...)}

	disp := tg.NewUpdateDispatcher()
	disp.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		s.peers.addEntities(e)
		s.push(ctx, u.Message)
		return nil
	})
	disp.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		s.peers.addEntities(e)
		s.push(ctx, u.Message)
		return nil
	})

	client := telegram.NewClient(d.cfg.AppID, d.cfg.AppHash, d.options(store, disp))
	dctx, cancel := context.WithTimeout(ctx, d.cfg.DialTimeout)
	defer cancel()
	r, err := start(dctx, client, func(ctx context.Context) error {
		st, err := client.Auth().Status(ctx)
		if err != nil {
			return err
		}
		if !st.Authorized {
			return fmt.Errorf("%w: session not authorized", relay.ErrUnauthorized)
		}
		if st.User != nil {
			s.peers.putUser(st.User)
		}
		// Updates are only pushed after the client asked for state once.
		_, err = client.API().UpdatesGetState(ctx)
		return err
	})
	if err != nil {
		return nil, sessionErr(err)
	}
	s.r = r
	s.api = client.API()
	s.sender = message.NewSender(s.api)
	s.log.Debug("session dialed")
	return s, nil
}

func (s *tenantSession) push(ctx context.Context, m tg.MessageClass) {
	msg, ok := m.(*tg.Message)
	if !ok || msg.Out || msg.Message == "" {
		return
	}
	ev := relay.Event{
		ChatID:    peerKey(msg.PeerID),
		MessageID: msg.ID,
		Text:      msg.Message,
		Date:      time.Unix(int64(msg.Date), 0),
	}
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// Listen hands queued messages to fn one at a time until ctx is done or the
// connection drops.
func (s *tenantSession) Listen(ctx context.Context, fn func(ctx context.Context, ev relay.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.r.done:
			if s.r.err == nil || errors.Is(s.r.err, context.Canceled) {
				return errors.New("mtproto: connection closed")
			}
			return sessionErr(s.r.err)
		case ev := <-s.events:
			fn(ctx, ev)
		}
	}
}

func (s *tenantSession) Send(ctx context.Context, dest, text string) error {
	var b *message.RequestBuilder
	kind, username, id := parseDest(dest)
	switch kind {
	case destSelf:
		b = s.sender.To(&tg.InputPeerSelf{})
	case destUsername:
		b = s.sender.Resolve(username)
	case destID:
		p, err := s.resolveID(ctx, id)
		if err != nil {
			return sendErr(err)
		}
		b = s.sender.To(p)
	}
	_, err := b.StyledText(ctx, html.String(nil, text))
	return sendErr(err)
}

func (s *tenantSession) resolveID(ctx context.Context, id int64) (tg.InputPeerClass, error) {
	if p, ok := s.peers.get(id); ok {
		return p, nil
	}
	if id < 0 && id > -channelOffset {
		// Basic groups need no access hash.
		return &tg.InputPeerChat{ChatID: -id}, nil
	}
	// Refresh from dialogs once.
	if _, err := s.Dialogs(ctx); err != nil {
		return nil, err
	}
	if p, ok := s.peers.get(id); ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %d", errUnknownPeer, id)
}

// Dialogs lists the groups and channels of the account (first page).
func (s *tenantSession) Dialogs(ctx context.Context) ([]relay.Dialog, error) {
	res, err := s.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	})
	if err != nil {
		return nil, sessionErr(err)
	}
	var (
		chats []tg.ChatClass
		users []tg.UserClass
	)
	switch v := res.(type) {
	case *tg.MessagesDialogs:
		chats, users = v.Chats, v.Users
	case *tg.MessagesDialogsSlice:
		chats, users = v.Chats, v.Users
	default:
		return nil, nil
	}
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			s.peers.putUser(user)
		}
	}

	out := make([]relay.Dialog, 0, len(chats))
	for _, c := range chats {
		switch v := c.(type) {
		case *tg.Chat:
			s.peers.putChat(v.ID)
			out = append(out, relay.Dialog{ID: -v.ID, Title: v.Title, Kind: "group"})
		case *tg.Channel:
			s.peers.putChannel(v.ID, v.AccessHash)
			kind := "channel"
			if v.Megagroup {
				kind = "supergroup"
			}
			out = append(out, relay.Dialog{ID: channelKey(v.ID), Title: v.Title, Kind: kind})
		}
	}
	return out, nil
}

func (s *tenantSession) Close() error {
	if s.r != nil {
		s.r.close()
	}
	return nil
}
