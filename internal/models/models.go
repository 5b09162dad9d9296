package models

import "time"

// EventKind discriminates the parsed log sources feeding the pipeline.
type EventKind string

const (
	KindNetworkAlert   EventKind = "network_alert"
	KindRuntimeEvent   EventKind = "runtime_event"
	KindPackageInstall EventKind = "package_install"
)

// LogEvent is the parsed form of one qualifying log line. Exactly one of
// Network or Runtime is set, according to Kind (a package install is a
// retagged runtime event and keeps its Runtime payload).
type LogEvent struct {
	Kind    EventKind
	Network *NetworkAlert
	Runtime *RuntimeEvent
}

// NetworkAlert is one Suricata EVE alert record. Fields are extracted
// independently; a field missing from the line stays empty.
type NetworkAlert struct {
	Severity  int
	Signature string
	SrcAddr   string
	DestAddr  string
	Timestamp string
	Action    string
}

// Blocked reports whether the engine dropped the packet rather than just
// alerting on it.
func (a *NetworkAlert) Blocked() bool {
	return a.Action == "blocked" || a.Action == "dropped"
}

// RuntimeEvent is one Tracee record. ProcessPath and CommandLine are only
// populated for exec-like events.
type RuntimeEvent struct {
	EventName     string
	ContainerName string
	Timestamp     int64
	ProcessPath   string
	CommandLine   string
}

// CostEntry is one recorded upstream LLM call, priced in USD.
type CostEntry struct {
	Timestamp    time.Time
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// NotificationEvent records the outcome of one outbound notification
// attempt.
type NotificationEvent struct {
	TS      time.Time
	Channel string
	Status  string // sent | failed | ratelimited
	Detail  string
}
