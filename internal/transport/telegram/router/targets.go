package router

import (
	"regexp"
	"strconv"
	"strings"

	"sigrelay/internal/routing"
)

var usernameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,31}$`)

// normalizeTarget validates a destination argument and returns its stored
// form: "me", a decimal id, or "@username".
func normalizeTarget(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "me", "self":
		return routing.SelfDestination, true
	case "":
		return "", false
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return s, true
	}
	for _, p := range []string{"https://t.me/", "http://t.me/", "t.me/", "@"} {
		if len(s) > len(p) && strings.EqualFold(s[:len(p)], p) {
			s = s[len(p):]
			break
		}
	}
	s = strings.TrimSuffix(s, "/")
	if !usernameRe.MatchString(s) {
		return "", false
	}
	return "@" + s, true
}

func parseGroupID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	return id, err == nil && id != 0
}
