package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Alerting pipeline
	TelegramBotToken string
	TelegramChatID   string
	NotifyTimeout    time.Duration
	MaxPerMinute     int
	DailyReportHour  int
	EvePath          string
	TraceePath       string

	// Suricata rule updater
	RulesUpdateHour int
	RulesURL        string
	RulesDir        string

	// LLM proxy
	ProxyAddr         string
	UpstreamBase      string
	UpstreamKey       string
	UpstreamProvider  string
	GuardEnabled      bool
	GuardURL          string
	GuardThreshold    float64
	GuardStripUnicode bool
	RouterEnabled     bool
	RouterConfigPath  string

	// Usage ledger
	DataDir string
	DBPath  string
}

func Load() Config {
	dataDir := getenv("APP_DATA_DIR", "./data")
	return Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		NotifyTimeout:    getenvDuration("NOTIFY_TIMEOUT", 5*time.Second),
		MaxPerMinute:     getenvInt("ALERT_MAX_PER_MINUTE", 10),
		DailyReportHour:  getenvHour("DAILY_REPORT_HOUR", 0),
		EvePath:          getenv("SURICATA_EVE_PATH", "/var/log/suricata/eve.json"),
		TraceePath:       getenv("TRACEE_LOG_PATH", "/var/log/tracee/events.json"),

		RulesUpdateHour: getenvHour("RULES_UPDATE_HOUR", 3),
		RulesURL:        getenv("RULES_URL", "https://rules.emergingthreats.net/open/suricata-7.0.3/emerging.rules.tar.gz"),
		RulesDir:        getenv("RULES_DIR", "/var/lib/suricata/rules"),

		ProxyAddr:         getenv("PROXY_ADDR", ":8080"),
		UpstreamBase:      strings.TrimRight(getenv("LLM_API_BASE", "https://api.anthropic.com"), "/"),
		UpstreamKey:       os.Getenv("LLM_API_KEY"),
		UpstreamProvider:  strings.ToLower(getenv("LLM_API_PROVIDER", "anthropic")),
		GuardEnabled:      getenvBool("GUARD_ENABLED", false),
		GuardURL:          os.Getenv("GUARD_URL"),
		GuardThreshold:    getenvFloat("GUARD_THRESHOLD", 0.8),
		GuardStripUnicode: getenvBool("GUARD_STRIP_HIDDEN_UNICODE", true),
		RouterEnabled:     getenvBool("SMART_ROUTER_ENABLED", false),
		RouterConfigPath:  getenv("ROUTER_CONFIG_PATH", "/app/router-config.yaml"),

		DataDir: dataDir,
		DBPath:  getenv("APP_DB_PATH", dataDir+"/clawsentry.db"),
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func getenvHour(k string, d int) int {
	h := getenvInt(k, d)
	if h < 0 || h > 23 {
		return d
	}
	return h
}

func getenvFloat(k string, d float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return d
	}
	return f
}

func getenvBool(k string, d bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(k)))
	if v == "" {
		return d
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	return d
}

func getenvDuration(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return d
	}
	return dur
}
