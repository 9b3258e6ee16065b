package router

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"sigrelay/internal/relay"
	"sigrelay/internal/storage"
	kit "sigrelay/internal/transport"
	"sigrelay/pkg/tgui"
)

const groupsCallback = "groups"

func (r *Router) cmdListGroups(ctx context.Context, req *Request) error {
	page := 1
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n < 1 {
			return req.Reply(ctx, msgInvalidPage)
		}
		page = n
	}
	text, kb, err := r.renderGroups(ctx, req.FromID, page)
	if err != nil || text == "" {
		return err
	}
	_, err = r.adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Keyboard: kb})
	return err
}

// groupsPage handles the pagination buttons: data "groups:<page>".
func (r *Router) groupsPage(ctx context.Context, req *Request, payload string) error {
	page, err := strconv.Atoi(payload)
	if err != nil || page < 1 {
		return nil
	}
	text, kb, err := r.renderGroups(ctx, req.FromID, page)
	if err != nil || text == "" {
		return err
	}
	ref := kit.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.MessageID}
	return r.adapter.EditText(ctx, ref, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Keyboard: kb})
}

// renderGroups returns the page body and its navigation keyboard. Problems
// are replied to the tenant directly and yield an empty text.
func (r *Router) renderGroups(ctx context.Context, tenantID int64, page int) (string, [][]kit.Button, error) {
	chat := kit.ChatTarget{ChatID: tenantID}
	say := func(msg string) error {
		_, err := r.adapter.SendText(ctx, chat, msg, &kit.SendOptions{ParseMode: "HTML"})
		return err
	}
	sess, ok := r.deps.Relay.Session(tenantID)
	if !ok {
		return "", nil, say(msgSessionOffline)
	}
	dialogs, err := sess.Dialogs(ctx)
	if err != nil {
		_ = say(msgInternalError)
		return "", nil, fmt.Errorf("list dialogs: %w", err)
	}
	if len(dialogs) == 0 {
		return "", nil, say(msgNoGroups)
	}
	rc, err := r.deps.Store.GetRouting(ctx, tenantID)
	if err != nil {
		_ = say(msgInternalError)
		return "", nil, fmt.Errorf("load routing: %w", err)
	}
	pg, ok := tgui.Paginate(dialogs, page, r.deps.GroupsPerPage)
	if !ok {
		return "", nil, say(msgInvalidPage)
	}
	var kb [][]kit.Button
	if row := pg.NavRow(groupsCallback); row != nil {
		kb = [][]kit.Button{row}
	}
	return groupsPageText(pg, rc), kb, nil
}

const maxTitleRunes = 48

func groupsPageText(pg tgui.Page[relay.Dialog], rc storage.Routing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 %s (page %d/%d)\n", tgui.B("Your groups"), pg.Number, pg.Pages)
	for i, d := range pg.Items {
		fmt.Fprintf(&b, "\n%d. %s %s %s", pg.From+i+1, tgui.Esc(tgui.TruncRunes(d.Title, maxTitleRunes)), tgui.Code(strconv.FormatInt(d.ID, 10)), tgui.I(d.Kind))
		if n, ok := rc.Lookup(d.ID); ok {
			fmt.Fprintf(&b, " ✅ %s", tgui.Esc(n.Label))
		}
	}
	b.WriteString("\n\nUse <code>/set_notifier &lt;id&gt; \"label\"</code> to assign a notifier.")
	return b.String()
}

func sortedGroupIDs(m map[int64]storage.Notifier) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
