package router

import (
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq uint64

// newReqID returns a short request id: base36 time, sequence and two random chars.
func newReqID() string {
	n := atomic.AddUint64(&ridSeq, 1)
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := []byte{alpha[rand.Intn(len(alpha))], alpha[rand.Intn(len(alpha))]}
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36) + string(suffix)
}

// tokenizeCommandLine splits command text into tokens while supporting quotes.
//
//	/set_notifier -100123 "Alpha Calls" 2
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar rune
		esc   bool
		quote bool // current token was opened with a quote (keeps "" tokens)
	)
	flush := func() {
		if buf.Len() > 0 || quote {
			out = append(out, buf.String())
			buf.Reset()
		}
		quote = false
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ:
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteRune(ch)
		case ch == '"' || ch == '\'':
			inQ, qChar, quote = true, ch, true
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()
	return out
}

// commandWord extracts the command name from "/name@bot".
func commandWord(tok string) string {
	w := strings.TrimPrefix(tok, "/")
	if i := strings.IndexByte(w, '@'); i >= 0 {
		w = w[:i]
	}
	return strings.ToLower(w)
}
