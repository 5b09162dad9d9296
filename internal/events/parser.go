package events

import (
	"encoding/json"
	"strconv"
	"strings"

	"clawsentry/internal/models"
)

// Package-manager binaries whose execution inside a container warrants its
// own notification. Matched as a path suffix.
var packageManagers = []string{"apt", "apt-get", "dpkg", "pip", "pip3", "npm", "apk"}

// execEvents are the Tracee event names that carry an executable path.
var execEvents = map[string]bool{
	"sched_process_exec": true,
	"execve":             true,
	"execveat":           true,
}

// ParseEveLine converts one Suricata EVE line into a NetworkAlert, or nil
// when the line is not an alert record or cannot be decoded. It never fails.
func ParseEveLine(line string) *models.NetworkAlert {
	doc := decode(line)
	if doc == nil {
		return nil
	}
	if str(doc, "event_type") != "alert" {
		return nil
	}
	alert := sub(doc, "alert")
	a := &models.NetworkAlert{
		Severity:  intval(alert, "severity"),
		Signature: str(alert, "signature"),
		Action:    str(alert, "action"),
		Timestamp: str(doc, "timestamp"),
		SrcAddr:   addr(doc, "src_ip", "src_port"),
		DestAddr:  addr(doc, "dest_ip", "dest_port"),
	}
	return a
}

// LiveSeverity reports whether an alert qualifies for the real-time
// notification path. The daily aggregate has no severity filter.
func LiveSeverity(a *models.NetworkAlert) bool {
	return a != nil && (a.Severity == 1 || a.Severity == 2)
}

// ParseTraceeLine converts one Tracee line into a RuntimeEvent, or nil when
// the line lacks an event name or cannot be decoded. Exec events whose
// binary is a known package manager are retagged by Classify.
func ParseTraceeLine(line string) *models.RuntimeEvent {
	doc := decode(line)
	if doc == nil {
		return nil
	}
	name := str(doc, "eventName")
	if name == "" {
		return nil
	}
	ev := &models.RuntimeEvent{
		EventName:     name,
		ContainerName: str(sub(doc, "container"), "name"),
		Timestamp:     int64(intval(doc, "timestamp")),
	}
	if execEvents[name] {
		ev.ProcessPath, ev.CommandLine = execArgs(doc)
	}
	return ev
}

// Classify wraps a parsed record into a LogEvent, applying the
// package-install special case for exec events.
func Classify(ev *models.RuntimeEvent) models.LogEvent {
	if IsPackageInstall(ev.ProcessPath) {
		return models.LogEvent{Kind: models.KindPackageInstall, Runtime: ev}
	}
	return models.LogEvent{Kind: models.KindRuntimeEvent, Runtime: ev}
}

// IsPackageInstall reports whether path names a package-manager binary.
func IsPackageInstall(path string) bool {
	if path == "" {
		return false
	}
	for _, bin := range packageManagers {
		if path == bin || strings.HasSuffix(path, "/"+bin) {
			return true
		}
	}
	return false
}

// execArgs pulls the pathname and reconstructed command line out of a
// Tracee args array. Either may come back empty.
func execArgs(doc map[string]any) (path, cmdline string) {
	raw, ok := doc["args"].([]any)
	if !ok {
		return "", ""
	}
	var argv []string
	for _, item := range raw {
		arg, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch str(arg, "name") {
		case "pathname":
			path = str(arg, "value")
		case "argv":
			switch v := arg["value"].(type) {
			case []any:
				for _, p := range v {
					if s, ok := p.(string); ok {
						argv = append(argv, s)
					}
				}
			case string:
				argv = append(argv, v)
			}
		}
	}
	cmdline = strings.Join(argv, " ")
	if cmdline == "" {
		cmdline = path
	}
	return path, cmdline
}

// DailyRecord is the aggregate-relevant view of one EVE line for the daily
// report scan: dns queries, http, tls and alert records are counted,
// everything else is skipped. The scan has no severity filter.
type DailyRecord struct {
	Kind    string // dns | dest | alert
	Name    string // rrname, "ip (host)" pair, or action-prefixed signature
	Blocked bool
	DateISO string // 10-char date prefix of the record timestamp
}

// ParseDailyLine extracts the aggregate-relevant view of one EVE line.
// Returns nil for lines outside the four tracked shapes.
func ParseDailyLine(line string) *DailyRecord {
	doc := decode(line)
	if doc == nil {
		return nil
	}
	rec := &DailyRecord{DateISO: datePrefix(str(doc, "timestamp"))}
	switch str(doc, "event_type") {
	case "dns":
		dns := sub(doc, "dns")
		if str(dns, "type") != "query" {
			return nil
		}
		name := str(dns, "rrname")
		if name == "" {
			return nil
		}
		rec.Kind = "dns"
		rec.Name = name
	case "http":
		rec.Kind = "dest"
		rec.Name = destPair(str(doc, "dest_ip"), str(sub(doc, "http"), "hostname"))
	case "tls":
		rec.Kind = "dest"
		rec.Name = destPair(str(doc, "dest_ip"), str(sub(doc, "tls"), "sni"))
	case "alert":
		alert := sub(doc, "alert")
		action := str(alert, "action")
		rec.Kind = "alert"
		rec.Name = action + ": " + str(alert, "signature")
		rec.Blocked = action == "blocked" || action == "dropped"
	default:
		return nil
	}
	return rec
}

func destPair(ip, host string) string {
	if host == "" {
		host = "unknown"
	}
	return ip + " (" + host + ")"
}

func datePrefix(ts string) string {
	if len(ts) < 10 {
		return ""
	}
	return ts[:10]
}

// decode parses a line as a generic JSON document. Any malformed or
// non-object line yields nil.
func decode(line string) map[string]any {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		return nil
	}
	return doc
}

func str(doc map[string]any, key string) string {
	if doc == nil {
		return ""
	}
	s, _ := doc[key].(string)
	return s
}

func intval(doc map[string]any, key string) int {
	if doc == nil {
		return 0
	}
	switch v := doc[key].(type) {
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func sub(doc map[string]any, key string) map[string]any {
	if doc == nil {
		return nil
	}
	m, _ := doc[key].(map[string]any)
	return m
}

func addr(doc map[string]any, ipKey, portKey string) string {
	ip := str(doc, ipKey)
	if ip == "" {
		return ""
	}
	if p := intval(doc, portKey); p > 0 {
		return ip + ":" + strconv.Itoa(p)
	}
	return ip
}
