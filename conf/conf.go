// Package conf holds the typed bootstrap configuration loaded by
// contrib/config, mirroring the teacher's conf.Bootstrap shape: one struct
// tree decoded straight from YAML, passed down to every component at wiring
// time in main.go.
package conf

import (
	"time"

	"github.com/omalloc/imgproxy/pkg/mapstruct"
)

type Bootstrap struct {
	Hostname string    `json:"hostname" yaml:"hostname"`
	PidFile  string    `json:"pidfile" yaml:"pidfile"`
	Logger   *Logger   `json:"logger" yaml:"logger"`
	Server   *Server   `json:"server" yaml:"server"`
	Upstream *Upstream `json:"upstream" yaml:"upstream"`
	Cache    *Cache    `json:"cache" yaml:"cache"`
	Resize   *Resize   `json:"resize" yaml:"resize"`
	Referer  *Referer  `json:"referer" yaml:"referer"`
}

type Logger struct {
	Level      string `json:"level" yaml:"level"`
	Path       string `json:"path" yaml:"path"`
	Caller     bool   `json:"caller" yaml:"caller"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

type Server struct {
	Addr              string           `json:"addr" yaml:"addr"`
	ReadTimeout       time.Duration    `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      time.Duration    `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout       time.Duration    `json:"idle_timeout" yaml:"idle_timeout"`
	ReadHeaderTimeout time.Duration    `json:"read_header_timeout" yaml:"read_header_timeout"`
	MaxHeaderBytes    int              `json:"max_header_bytes" yaml:"max_header_bytes"`
	PProf             *ServerPProf     `json:"pprof" yaml:"pprof"`
	AccessLog         *ServerAccessLog `json:"access_log" yaml:"access_log"`
}

type ServerPProf struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

type ServerAccessLog struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
	Encrypt struct {
		Enabled bool   `json:"enabled" yaml:"enabled"`
		Secret  string `json:"secret" yaml:"secret"`
	} `json:"encrypt" yaml:"encrypt"`
}

// Upstream configures the Fetcher's HTTP client and size cap.
type Upstream struct {
	MaxIdleConns        int            `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int            `json:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int            `json:"max_conns_per_host" yaml:"max_conns_per_host"`
	MaxObjectSize       int64          `json:"max_object_size" yaml:"max_object_size"`
	InsecureSkipVerify  bool           `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Extra               map[string]any `json:"extra" yaml:"extra"`
}

// Decode unmarshals u's free-form Extra bag into v, for upstream-specific
// knobs that don't warrant a dedicated field.
func (u *Upstream) Decode(v any) error {
	return mapstruct.Decode(u.Extra, v)
}

// Cache configures the on-disk Cache Store.
type Cache struct {
	Root string        `json:"root" yaml:"root"`
	TTL  time.Duration `json:"ttl" yaml:"ttl"`

	// BypassHosts names upstream hosts that always skip the cache read
	// (fetched results are still written to the store), resolving spec.md §9's open question about a gravatar.com-style
	// bypass list.
	BypassHosts []string `json:"bypass_hosts" yaml:"bypass_hosts"`

	Errors *CacheErrors `json:"errors" yaml:"errors"`
}

// CacheErrors points at the on-disk static error GIF assets.
type CacheErrors struct {
	TooLarge   string `json:"toolarge" yaml:"toolarge"`
	BadFormat  string `json:"badformat" yaml:"badformat"`
	CannotRead string `json:"cannotread" yaml:"cannotread"`
}

// Resize configures the Resize Worker Pool.
type Resize struct {
	Workers      int `json:"workers" yaml:"workers"`
	RecycleAfter int `json:"recycle_after" yaml:"recycle_after"`
}

// Referer configures the Referer Gate's allow-list.
type Referer struct {
	Patterns []string `json:"patterns" yaml:"patterns"`
}
