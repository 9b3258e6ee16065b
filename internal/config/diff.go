package config

import (
	"reflect"
	"sort"
	"strings"

	logx "sigrelay/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe log attrs.
// Tokens, api hashes and connection URIs are never included.
// Sections marked restart-only still need a process restart to take effect.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restartOnly []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
		if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
			oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
			restartOnly = append(restartOnly, "telegram")
		}
	}

	if oldCfg.MTProto != newCfg.MTProto {
		changed = append(changed, "mtproto")
		restartOnly = append(restartOnly, "mtproto")
		attrs = append(attrs, logx.Int("mtproto.api_id", newCfg.MTProto.APIID))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Relay != newCfg.Relay {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.String("relay.login_timeout", newCfg.Relay.LoginTimeout),
			logx.Int("relay.listen_retry_max", newCfg.Relay.ListenRetryMax),
			logx.String("relay.dedup_retention", newCfg.Relay.DedupRetention),
		)
		o, n := oldCfg.Relay, newCfg.Relay
		if o.ListenRetryMax != n.ListenRetryMax || o.ListenBackoffMin != n.ListenBackoffMin ||
			o.ListenBackoffMax != n.ListenBackoffMax || o.DedupSweepInterval != n.DedupSweepInterval {
			restartOnly = append(restartOnly, "relay")
		}
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Int("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
			logx.Int("delivery.retry_max", newCfg.Delivery.RetryMax),
			logx.String("delivery.retry_base", newCfg.Delivery.RetryBase),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		restartOnly = append(restartOnly, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.uri_set", strings.TrimSpace(newCfg.Storage.URI) != ""),
		)
	}

	if oldCfg.Diag != newCfg.Diag {
		changed = append(changed, "diag")
		restartOnly = append(restartOnly, "diag")
		attrs = append(attrs,
			logx.Bool("diag.enabled", newCfg.Diag.Enabled),
			logx.String("diag.addr", strings.TrimSpace(newCfg.Diag.Addr)),
			logx.Bool("diag.token_set", newCfg.Diag.Token != ""),
		)
	}

	sort.Strings(changed)
	sort.Strings(restartOnly)
	return changed, attrs, restartOnly
}
