package config

// Config is the process configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "24h").
// Secrets may be left empty in the file and supplied through the environment
// (see ApplyEnv).
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	MTProto  MTProtoConfig  `json:"mtproto"`
	Logging  LoggingConfig  `json:"logging"`
	Relay    RelayConfig    `json:"relay"`
	Delivery DeliveryConfig `json:"delivery"`
	Storage  StorageConfig  `json:"storage"`
	Diag     DiagConfig     `json:"diag,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the admin chat id that receives warn/error logs.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

// MTProtoConfig holds the application credentials used for tenant sessions.
type MTProtoConfig struct {
	APIID       int    `json:"api_id"`
	APIHash     string `json:"api_hash"`
	Device      string `json:"device,omitempty"`
	DialTimeout string `json:"dial_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RelayConfig controls logins, listeners and the dedup cache.
//
// Defaults (when fields are omitted/zero):
//   - login_timeout: "300s"
//   - login_max_attempts: 3
//   - listen_retry_max: 5
//   - listen_backoff_min: "1s", listen_backoff_max: "60s"
//   - dedup_retention: "24h", dedup_sweep_interval: "24h"
//   - groups_per_page: 20
type RelayConfig struct {
	LoginTimeout       string `json:"login_timeout,omitempty"`
	LoginMaxAttempts   int    `json:"login_max_attempts,omitempty"`
	ListenRetryMax     int    `json:"listen_retry_max,omitempty"`
	ListenBackoffMin   string `json:"listen_backoff_min,omitempty"`
	ListenBackoffMax   string `json:"listen_backoff_max,omitempty"`
	DedupRetention     string `json:"dedup_retention,omitempty"`
	DedupSweepInterval string `json:"dedup_sweep_interval,omitempty"`
	GroupsPerPage      int    `json:"groups_per_page,omitempty"`
}

// DeliveryConfig controls outbound rate limiting and retries.
type DeliveryConfig struct {
	RatePerSec    int    `json:"rate_per_sec"`
	Burst         int    `json:"burst,omitempty"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

// StorageConfig selects the credential store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/relay.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	URI         string `json:"uri,omitempty"`          // mongo (do not log)
	Database    string `json:"database,omitempty"`     // mongo
}

// DiagConfig enables the operator HTTP endpoint (/healthz, /status, pprof).
// It binds to 127.0.0.1:6060 by default.
type DiagConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
