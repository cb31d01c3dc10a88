// Package ratelimit provides per-route rate limit options.
package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/docqa/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// 限流后端
const (
	BackendMemory      = "memory"
	BackendTokenBucket = "token-bucket"
	BackendRedis       = "redis"
)

// Options 定义限流配置（纯配置，可 JSON 序列化）。
type Options struct {
	// Enabled 是否启用限流。
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Backend 限流器后端：memory（滑动窗口）、token-bucket 或 redis。
	Backend string `json:"backend" mapstructure:"backend"`

	// Window 限流时间窗口。
	Window time.Duration `json:"window" mapstructure:"window"`

	// 各路由在一个窗口内允许的请求数。
	QueryLimit  int `json:"query-limit" mapstructure:"query-limit"`
	UploadLimit int `json:"upload-limit" mapstructure:"upload-limit"`
	RootLimit   int `json:"root-limit" mapstructure:"root-limit"`

	// TrustedProxies 是受信任的代理 IP 地址或 CIDR 范围列表。
	// 为空时，不信任代理头（X-Forwarded-For, X-Real-IP）。
	TrustedProxies []string `json:"trusted-proxies" mapstructure:"trusted-proxies"`
}

// NewOptions 创建默认的限流选项。
func NewOptions() *Options {
	return &Options{
		Enabled:     true,
		Backend:     BackendMemory,
		Window:      time.Minute,
		QueryLimit:  20,
		UploadLimit: 5,
		RootLimit:   10,
	}
}

// AddFlags 为限流选项添加标志到指定的 FlagSet。
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "ratelimit."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Enable per-client rate limiting.")
	fs.StringVar(&o.Backend, p+"backend", o.Backend, "Rate limiter backend (memory, token-bucket, redis).")
	fs.DurationVar(&o.Window, p+"window", o.Window, "Rate limit window.")
	fs.IntVar(&o.QueryLimit, p+"query-limit", o.QueryLimit, "Queries allowed per client and window.")
	fs.IntVar(&o.UploadLimit, p+"upload-limit", o.UploadLimit, "Uploads allowed per client and window.")
	fs.IntVar(&o.RootLimit, p+"root-limit", o.RootLimit, "Index requests allowed per client and window.")
	fs.StringSliceVar(&o.TrustedProxies, p+"trusted-proxies", o.TrustedProxies, "Trusted proxy IPs or CIDR ranges.")
}

// Validate 验证限流选项。
func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}
	var errs []error
	switch o.Backend {
	case BackendMemory, BackendTokenBucket, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("ratelimit.backend %q is not supported", o.Backend))
	}
	if o.Window <= 0 {
		errs = append(errs, errors.New("ratelimit.window must be positive"))
	}
	if o.QueryLimit <= 0 || o.UploadLimit <= 0 || o.RootLimit <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	return errs
}
