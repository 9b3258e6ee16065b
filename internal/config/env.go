package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvBotToken = "API_TOKEN"
	EnvAPIID    = "API_ID"
	EnvAPIHash  = "API_HASH"
	EnvMongoURI = "MONGO_URI"
	EnvOwners   = "OWNER_USER_IDS"
)

// LoadEnvFiles loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment values onto cfg.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get(EnvBotToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvAPIID); ok {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAPIID, err)
		}
		cfg.MTProto.APIID = id
	}
	if v, ok := get(EnvAPIHash); ok {
		cfg.MTProto.APIHash = v
	}
	if v, ok := get(EnvMongoURI); ok {
		cfg.Storage.URI = v
		if strings.TrimSpace(cfg.Storage.Driver) == "" {
			cfg.Storage.Driver = "mongo"
		}
	}
	if v, ok := get(EnvOwners); ok {
		var ids []int64
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", EnvOwners, err)
			}
			ids = append(ids, id)
		}
		cfg.Telegram.OwnerUserIDs = ids
	}
	return nil
}
