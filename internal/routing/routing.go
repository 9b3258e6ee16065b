// Package routing turns an extracted signal into the concrete deliveries for
// one tenant.
package routing

import (
	"fmt"
	"html"
	"strings"

	"sigrelay/internal/signal"
	"sigrelay/internal/storage"
)

const (
	DefaultLabel = "Insider Play"
	DefaultKey   = "1"

	// SelfDestination addresses the tenant's own saved messages.
	SelfDestination = "me"
)

// Delivery is one outbound message. Text is HTML.
type Delivery struct {
	Destination string
	Text        string
	Label       string
	Key         string
	Secondary   bool
}

// Resolve looks up the notifier for sourceID and returns one delivery to the
// primary destination plus, when configured, an identical one to the
// secondary endpoint.
func Resolve(t storage.Tenant, rc storage.Routing, sourceID int64, sig signal.Signal) []Delivery {
	label, key := DefaultLabel, DefaultKey
	if n, ok := rc.Lookup(sourceID); ok {
		if s := strings.TrimSpace(n.Label); s != "" {
			label = s
		}
		if s := strings.TrimSpace(n.Key); s != "" {
			key = s
		}
	}
	text := Format(label, sig)

	dest := strings.TrimSpace(t.Destination)
	if dest == "" {
		dest = SelfDestination
	}
	out := []Delivery{{Destination: dest, Text: text, Label: label, Key: key}}
	if tb := strings.TrimSpace(t.TradingBot); tb != "" && tb != dest {
		out = append(out, Delivery{Destination: tb, Text: text, Label: label, Key: key, Secondary: true})
	}
	return out
}

type quickBuy struct {
	name string
	link string // %s is the contract address
}

var footer = []quickBuy{
	{"Trojan", "https://t.me/helenus_trojanbot?start=r-kaoru9-%s"},
	{"Maestro", "https://t.me/MaestroSniperBot?start=%s-kaoru91819"},
	{"Bonk Bot", "https://t.me/bonkbot_bot?start=ref_fnhex_ca_%s"},
	{"STB", "https://t.me/SolTradingBot_Europe_Bot?start=%s-lUNqcvksz"},
}

// Format renders the forwarded message.
func Format(label string, sig signal.Signal) string {
	var b strings.Builder
	b.WriteString(html.EscapeString(label))
	b.WriteString("\n\n")
	b.WriteString(html.EscapeString(sig.Token))
	b.WriteString("\nMC: ")
	b.WriteString(sig.MarketCap)
	b.WriteString("\n\n")
	b.WriteString(sig.Contract)
	b.WriteString("\n\n🤖 Ape Faster, Use bot below:\n")
	for i, q := range footer {
		if i > 0 {
			b.WriteString(" | ")
		}
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, fmt.Sprintf(q.link, sig.Contract), q.name)
	}
	return b.String()
}
