package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 8, 29, 23, 55, 0, 0, time.UTC)
}

func writeFixture(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eve.json")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func dnsLine(date, name string) string {
	return fmt.Sprintf(`{"timestamp":"%sT10:00:00.000000+0000","event_type":"dns","dns":{"type":"query","rrname":"%s"}}`, date, name)
}

func TestBuildDNSAggregate(t *testing.T) {
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, dnsLine("2026-08-29", "a.example.com"))
	}
	for i := 0; i < 3; i++ {
		lines = append(lines, dnsLine("2026-08-29", "b.example.com"))
	}
	lines = append(lines, dnsLine("2026-08-29", "c.example.com"))

	g := NewGenerator(writeFixture(t, lines))
	g.Now = fixedNow
	sum := g.Build()

	if sum.UniqueDNS != 3 {
		t.Fatalf("unique dns = %d, want 3", sum.UniqueDNS)
	}
	want := []Entry{
		{Name: "a.example.com", Count: 5},
		{Name: "b.example.com", Count: 3},
		{Name: "c.example.com", Count: 1},
	}
	for i, w := range want {
		if sum.DNSQueries[i] != w {
			t.Fatalf("dns[%d] = %+v, want %+v", i, sum.DNSQueries[i], w)
		}
	}
	if sum.AlertCount != 0 || sum.BlockedCount != 0 || sum.UniqueDests != 0 {
		t.Fatalf("unexpected non-dns aggregates: %+v", sum)
	}
}

func TestBuildTwoDayWindow(t *testing.T) {
	lines := []string{
		dnsLine("2026-08-29", "today.example.com"),
		dnsLine("2026-08-28", "yesterday.example.com"),
		dnsLine("2026-08-27", "stale.example.com"),
	}
	g := NewGenerator(writeFixture(t, lines))
	g.Now = fixedNow
	sum := g.Build()
	if sum.UniqueDNS != 2 {
		t.Fatalf("unique dns = %d, want 2 (today + yesterday only)", sum.UniqueDNS)
	}
}

func TestBuildCountsAllSeveritiesAndBlocked(t *testing.T) {
	lines := []string{
		`{"timestamp":"2026-08-29T01:00:00.000000+0000","event_type":"alert","alert":{"action":"allowed","severity":3,"signature":"LOW PRIO"}}`,
		`{"timestamp":"2026-08-29T01:00:01.000000+0000","event_type":"alert","alert":{"action":"blocked","severity":1,"signature":"BAD"}}`,
		`{"timestamp":"2026-08-29T01:00:02.000000+0000","event_type":"alert","alert":{"action":"blocked","severity":1,"signature":"BAD"}}`,
	}
	g := NewGenerator(writeFixture(t, lines))
	g.Now = fixedNow
	sum := g.Build()
	if sum.AlertCount != 3 {
		t.Fatalf("alert count = %d, want 3 (no severity filter in the daily scan)", sum.AlertCount)
	}
	if sum.BlockedCount != 2 {
		t.Fatalf("blocked count = %d, want 2", sum.BlockedCount)
	}
	if sum.Alerts[0].Name != "blocked: BAD" || sum.Alerts[0].Count != 2 {
		t.Fatalf("top alert = %+v", sum.Alerts[0])
	}
}

func TestBuildMissingFileIsZeroReport(t *testing.T) {
	g := NewGenerator(filepath.Join(t.TempDir(), "nope.json"))
	g.Now = fixedNow
	sum := g.Build()
	if sum.AlertCount != 0 || sum.UniqueDNS != 0 || sum.UniqueDests != 0 || sum.BlockedCount != 0 {
		t.Fatalf("missing file should yield a zero report, got %+v", sum)
	}
	if sum.Date != "2026-08-29" {
		t.Fatalf("zero report still carries the date, got %q", sum.Date)
	}
}

func TestTopIsBoundedAndStable(t *testing.T) {
	counts := map[string]int{}
	for i := 0; i < 15; i++ {
		counts[fmt.Sprintf("host%02d", i)] = 1
	}
	counts["busy"] = 9
	entries := top(counts)
	if len(entries) != 10 {
		t.Fatalf("top table has %d entries, want 10", len(entries))
	}
	if entries[0].Name != "busy" {
		t.Fatalf("top entry = %+v", entries[0])
	}
	// Ties come back in name order.
	for i := 2; i < len(entries); i++ {
		if entries[i-1].Name > entries[i].Name {
			t.Fatalf("tie order unstable: %q before %q", entries[i-1].Name, entries[i].Name)
		}
	}
}

func TestFormatSections(t *testing.T) {
	sum := Summary{
		Date:         "2026-08-29",
		UniqueDNS:    3,
		DNSQueries:   []Entry{{Name: "a.example.com", Count: 5}, {Name: "b.example.com", Count: 3}, {Name: "c.example.com", Count: 1}},
		UniqueDests:  1,
		Destinations: []Entry{{Name: "1.2.3.4 (example.com)", Count: 7}},
		AlertCount:   2,
		Alerts:       []Entry{{Name: "blocked: BAD", Count: 2}},
		BlockedCount: 2,
	}
	msg := Format(sum)
	for _, want := range []string{
		"2026-08-29",
		"*DNS queries:* 3 unique",
		"a.example.com",
		"*HTTP/TLS destinations:* 1 unique",
		"*Alerts:* 2",
		"blocked: BAD",
		"*Blocked packets:* 2",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("report missing %q:\n%s", want, msg)
		}
	}
	a := strings.Index(msg, "a.example.com")
	b := strings.Index(msg, "b.example.com")
	c := strings.Index(msg, "c.example.com")
	if !(a < b && b < c) {
		t.Fatalf("dns table not in descending count order:\n%s", msg)
	}
}
