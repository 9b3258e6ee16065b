package tgui

import "testing"

func TestPaginate(t *testing.T) {
	t.Parallel()

	items := []int{1, 2, 3, 4, 5}
	cases := []struct {
		number    int
		ok        bool
		want      []int
		from      int
		navLen    int
		firstData string
	}{
		{number: 1, ok: true, want: []int{1, 2}, from: 0, navLen: 2, firstData: NoopData},
		{number: 2, ok: true, want: []int{3, 4}, from: 2, navLen: 3, firstData: "groups:1"},
		{number: 3, ok: true, want: []int{5}, from: 4, navLen: 2, firstData: "groups:2"},
		{number: 0, ok: false},
		{number: 4, ok: false},
	}
	for _, tc := range cases {
		p, ok := Paginate(items, tc.number, 2)
		if ok != tc.ok {
			t.Fatalf("page %d: ok=%v want %v", tc.number, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if len(p.Items) != len(tc.want) || p.From != tc.from || p.Pages != 3 {
			t.Fatalf("page %d: got %+v", tc.number, p)
		}
		for i := range tc.want {
			if p.Items[i] != tc.want[i] {
				t.Fatalf("page %d: items=%v want %v", tc.number, p.Items, tc.want)
			}
		}
		row := p.NavRow("groups")
		if len(row) != tc.navLen || row[0].Data != tc.firstData {
			t.Fatalf("page %d: nav=%+v", tc.number, row)
		}
	}

	if _, ok := Paginate([]int{}, 1, 2); ok {
		t.Fatalf("empty list should have no pages")
	}
	if p, _ := Paginate(items, 1, 10); p.NavRow("groups") != nil {
		t.Fatalf("single page should not need navigation")
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"📈📉📊", 2, "📈📉…"},
		{"abc", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q,%d)=%q want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestHTMLHelpers(t *testing.T) {
	t.Parallel()

	got := JoinH(" ", B("A&B"), Esc(""), Code("<id>"), I("x"))
	want := H("<b>A&amp;B</b> <code>&lt;id&gt;</code> <i>x</i>")
	if got != want {
		t.Fatalf("JoinH = %q, want %q", got, want)
	}
}
