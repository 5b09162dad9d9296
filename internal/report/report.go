package report

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"clawsentry/internal/events"
)

const topN = 10

// Summary is one day's aggregate view of the network-alert stream.
type Summary struct {
	Date         string
	DNSQueries   []Entry
	Destinations []Entry
	Alerts       []Entry
	UniqueDNS    int
	UniqueDests  int
	AlertCount   int
	BlockedCount int
}

type Entry struct {
	Name  string
	Count int
}

// Generator scans the EVE log on demand and builds the daily summary. It
// holds no state between runs.
type Generator struct {
	EvePath string
	Now     func() time.Time
}

func NewGenerator(evePath string) *Generator {
	return &Generator{EvePath: evePath, Now: time.Now}
}

// Build scans the full EVE file, keeping lines whose date prefix matches
// today or yesterday (UTC) so a run that straddles midnight or fires late
// still sees the intended window. A missing file yields a zero-valued
// summary, not an error.
func (g *Generator) Build() Summary {
	now := g.Now().UTC()
	today := now.Format("2006-01-02")
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")

	sum := Summary{Date: today}
	dns := map[string]int{}
	dests := map[string]int{}
	alerts := map[string]int{}

	file, err := os.Open(g.EvePath)
	if err != nil {
		return sum
	}
	defer file.Close()

	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		rec := events.ParseDailyLine(sc.Text())
		if rec == nil {
			continue
		}
		if rec.DateISO != today && rec.DateISO != yesterday {
			continue
		}
		switch rec.Kind {
		case "dns":
			dns[rec.Name]++
		case "dest":
			dests[rec.Name]++
		case "alert":
			alerts[rec.Name]++
			sum.AlertCount++
			if rec.Blocked {
				sum.BlockedCount++
			}
		}
	}

	sum.UniqueDNS = len(dns)
	sum.UniqueDests = len(dests)
	sum.DNSQueries = top(dns)
	sum.Destinations = top(dests)
	sum.Alerts = top(alerts)
	return sum
}

// top returns the highest-count entries in descending order, ties broken by
// name so repeated runs produce the same table.
func top(counts map[string]int) []Entry {
	entries := make([]Entry, 0, len(counts))
	for name, c := range counts {
		entries = append(entries, Entry{Name: name, Count: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
	if len(entries) > topN {
		entries = entries[:topN]
	}
	return entries
}

// Format renders the summary as one multi-section Telegram message.
func Format(s Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *Daily security report — %s*\n\n", s.Date)

	fmt.Fprintf(&sb, "*DNS queries:* %d unique\n", s.UniqueDNS)
	writeTable(&sb, s.DNSQueries)

	fmt.Fprintf(&sb, "\n*HTTP/TLS destinations:* %d unique\n", s.UniqueDests)
	writeTable(&sb, s.Destinations)

	fmt.Fprintf(&sb, "\n*Alerts:* %d\n", s.AlertCount)
	writeTable(&sb, s.Alerts)

	fmt.Fprintf(&sb, "\n*Blocked packets:* %d\n", s.BlockedCount)
	return sb.String()
}

func writeTable(sb *strings.Builder, entries []Entry) {
	if len(entries) == 0 {
		sb.WriteString("  (none)\n")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(sb, "  %5d  %s\n", e.Count, e.Name)
	}
}
