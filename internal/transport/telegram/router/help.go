package router

import (
	"slices"
	"strings"

	kit "sigrelay/internal/transport"
	"sigrelay/pkg/tgui"
)

// helpText lists the commands visible to the caller in HTML.
func (r *Router) helpText(fromID int64) string {
	owner := slices.Contains(r.ownersSnapshot(), fromID)
	r.mu.RLock()
	cmds := slices.Clone(r.cmds)
	r.mu.RUnlock()

	lines := []string{"📚 <b>Available commands</b>", ""}
	for _, c := range cmds {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		line := "/" + c.Name
		if c.Usage != "" {
			line = strings.TrimSpace(c.Usage)
		}
		entry := "• " + tgui.Code(line).String()
		if c.Description != "" {
			entry += " - " + tgui.Esc(c.Description).String()
		}
		if c.Access == AccessOwnerOnly {
			entry = "• 🔒" + strings.TrimPrefix(entry, "•")
		}
		lines = append(lines, entry)
	}
	lines = append(lines, "", "Commands marked with usage take arguments; quote labels with spaces.")
	return strings.Join(lines, "\n")
}

// menu returns the public command menu (owner-only commands are hidden).
func (r *Router) menu() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		if c.Access == AccessOwnerOnly {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}
