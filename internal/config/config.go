// Package config loads DropHub's startup configuration from the
// environment, prefixed DROPHUB__ (spec.md §6 Configuration). Every knob
// has a sane default so a bare `go run ./cmd/server` works out of the box;
// production deployments override via environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "DROPHUB__"

// Config is every setting DropHub reads at startup. The core settings
// (credential secret/TTLs, invite TTL, block size, default room capacity)
// come straight from spec.md §6; the rest is the ambient server knobs the
// teacher's http stack already needed (heartbeat, buffers, rate limits,
// TLS).
type Config struct {
	BindAddr string

	CredentialSecret []byte
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	InviteTTL        time.Duration
	BlockSizeBytes   int64
	RoomCapacity     int

	Heartbeat    time.Duration
	Handshake    time.Duration
	MetricsRoute string

	DevMode     bool
	CORSOrigins []string
	WSReadBuf   int
	WSWriteBuf  int
	WSMaxMsg    int64

	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	TLSCertFile string
	TLSKeyFile  string

	WSRatePerMin   int
	HTTPRatePerMin int
}

func Load() Config {
	return Config{
		BindAddr: getenv("BIND_ADDR", "0.0.0.0:8080"),

		CredentialSecret: []byte(getenv("CREDENTIAL_SECRET", "dev-insecure-secret-change-me")),
		AccessTokenTTL:   getenvDur("ACCESS_TOKEN_TTL", 5*time.Minute),
		RefreshTokenTTL:  getenvDur("REFRESH_TOKEN_TTL", 24*time.Hour),
		InviteTTL:        getenvDur("INVITE_TTL", 10*time.Minute),
		BlockSizeBytes:   int64(getenvInt("BLOCK_SIZE_BYTES", 64<<10)),
		RoomCapacity:     getenvInt("ROOM_CAPACITY", 8),

		Heartbeat:    getenvDur("WS_HEARTBEAT", 30*time.Second),
		Handshake:    getenvDur("WS_HANDSHAKE", 10*time.Second),
		MetricsRoute: getenv("METRICS_ROUTE", "/metrics"),

		DevMode:     strings.EqualFold(getenv("DEV", "false"), "true"),
		CORSOrigins: splitCSV(getenv("CORS_ORIGINS", "")),
		WSReadBuf:   getenvInt("WS_READ_BUFFER", 32<<10),
		WSWriteBuf:  getenvInt("WS_WRITE_BUFFER", 32<<10),
		WSMaxMsg:    int64(getenvInt("WS_MAX_MSG", 2<<20)),

		ReadHeaderTimeout: getenvDur("READ_HEADER_TIMEOUT", 5*time.Second),
		WriteTimeout:      getenvDur("WRITE_TIMEOUT", 0),
		IdleTimeout:       getenvDur("IDLE_TIMEOUT", 0),

		TLSCertFile: getenv("TLS_CERT_FILE", ""),
		TLSKeyFile:  getenv("TLS_KEY_FILE", ""),

		WSRatePerMin:   getenvInt("WS_RATE_PER_MIN", 0),
		HTTPRatePerMin: getenvInt("HTTP_RATE_PER_MIN", 0),
	}
}

func (c Config) Validate() error {
	if len(c.CredentialSecret) < 16 {
		return fmt.Errorf("%sCREDENTIAL_SECRET must be at least 16 bytes", envPrefix)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.InviteTTL <= 0 {
		return fmt.Errorf("token and invite TTLs must be positive")
	}
	if c.BlockSizeBytes <= 0 {
		return fmt.Errorf("%sBLOCK_SIZE_BYTES must be positive", envPrefix)
	}
	if c.RoomCapacity <= 0 {
		return fmt.Errorf("%sROOM_CAPACITY must be positive", envPrefix)
	}
	if c.WSMaxMsg <= 1024 {
		return fmt.Errorf("%sWS_MAX_MSG too small: %d", envPrefix, c.WSMaxMsg)
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("%sWS_HEARTBEAT must be >0", envPrefix)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("both %sTLS_CERT_FILE and %sTLS_KEY_FILE must be set, or none", envPrefix, envPrefix)
	}
	return nil
}

func splitCSV(v string) []string {
	if v == "" || v == "*" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(envPrefix + k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(envPrefix + k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(envPrefix + k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
