package mtproto

import (
	"strconv"
	"strings"
	"sync"

	"github.com/gotd/td/tg"
)

const channelOffset = 1_000_000_000_000

// peerKey converts a network peer into a signed, bot-API style id.
func peerKey(p tg.PeerClass) int64 {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID
	case *tg.PeerChat:
		return -v.ChatID
	case *tg.PeerChannel:
		return -(channelOffset + v.ChannelID)
	default:
		return 0
	}
}

func channelKey(id int64) int64 { return -(channelOffset + id) }

// peerCache keeps the access hashes needed to address numeric ids.
type peerCache struct {
	mu    sync.RWMutex
	peers map[int64]tg.InputPeerClass
}

func newPeerCache() *peerCache { return &peerCache{peers: map[int64]tg.InputPeerClass{}} }

func (c *peerCache) get(id int64) (tg.InputPeerClass, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.peers[id]
	return p, ok
}

func (c *peerCache) putUser(u *tg.User) {
	if u == nil {
		return
	}
	c.mu.Lock()
	c.peers[u.ID] = &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}
	c.mu.Unlock()
}

func (c *peerCache) putChat(id int64) {
	c.mu.Lock()
	c.peers[-id] = &tg.InputPeerChat{ChatID: id}
	c.mu.Unlock()
}

func (c *peerCache) putChannel(id, hash int64) {
	c.mu.Lock()
	c.peers[channelKey(id)] = &tg.InputPeerChannel{ChannelID: id, AccessHash: hash}
	c.mu.Unlock()
}

func (c *peerCache) addEntities(e tg.Entities) {
	for _, u := range e.Users {
		c.putUser(u)
	}
	for id := range e.Chats {
		c.putChat(id)
	}
	for _, ch := range e.Channels {
		c.putChannel(ch.ID, ch.AccessHash)
	}
}

type destKind int

const (
	destSelf destKind = iota
	destUsername
	destID
)

// parseDest classifies a destination string.
func parseDest(dest string) (destKind, string, int64) {
	d := strings.TrimSpace(dest)
	switch strings.ToLower(d) {
	case "", "me", "self":
		return destSelf, "", 0
	}
	if id, err := strconv.ParseInt(d, 10, 64); err == nil {
		return destID, "", id
	}
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "t.me/")
	return destUsername, strings.TrimPrefix(d, "@"), 0
}
