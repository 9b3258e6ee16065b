package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Validate checks required fields and every duration string.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if g := strings.TrimSpace(c.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("telegram.group_log: %w", err))
		}
	}
	if c.MTProto.APIID == 0 || strings.TrimSpace(c.MTProto.APIHash) == "" {
		errs = append(errs, errors.New("mtproto.api_id and mtproto.api_hash are required"))
	}

	durations := map[string]string{
		"telegram.poll_timeout":      c.Telegram.PollTimeout,
		"mtproto.dial_timeout":       c.MTProto.DialTimeout,
		"relay.login_timeout":        c.Relay.LoginTimeout,
		"relay.listen_backoff_min":   c.Relay.ListenBackoffMin,
		"relay.listen_backoff_max":   c.Relay.ListenBackoffMax,
		"relay.dedup_retention":      c.Relay.DedupRetention,
		"relay.dedup_sweep_interval": c.Relay.DedupSweepInterval,
		"delivery.retry_base":        c.Delivery.RetryBase,
		"delivery.retry_max_delay":   c.Delivery.RetryMaxDelay,
		"delivery.send_timeout":      c.Delivery.SendTimeout,
		"storage.busy_timeout":       c.Storage.BusyTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, checkDurationOrder(c)...)

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory", "mem":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case "mongo", "mongodb":
		if strings.TrimSpace(c.Storage.URI) == "" {
			errs = append(errs, errors.New("storage.uri (or MONGO_URI) is required for mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Delivery.RetryMax < 0 || c.Relay.ListenRetryMax < 0 {
		errs = append(errs, errors.New("retry counts must be >= 0"))
	}
	return errors.Join(errs...)
}

// GroupLogID returns the admin log chat id, or 0.
func (c *Config) GroupLogID() int64 {
	id, _ := strconv.ParseInt(strings.TrimSpace(c.Telegram.GroupLog), 10, 64)
	return id
}
