// Package llm provides LLM provider configuration options.
package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/docqa/pkg/options"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// 供应商名称
const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
)

// ProviderOptions 定义 LLM 供应商配置。
type ProviderOptions struct {
	// Provider 供应商名称（openai, groq, gemini）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址，gemini 忽略。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥，为空时从供应商对应的环境变量读取。
	APIKey string `json:"-" mapstructure:"api-key"`

	// Model 使用的模型名称。
	Model string `json:"model" mapstructure:"model"`

	// Temperature 生成温度，仅对话模型使用。
	Temperature float64 `json:"temperature" mapstructure:"temperature"`

	// Dimensions 向量维度，仅 embedding 模型使用。
	Dimensions int `json:"dimensions" mapstructure:"dimensions"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// 熔断器：连续失败 BreakerThreshold 次后打开，BreakerTimeout 后半开。
	BreakerThreshold int           `json:"breaker-threshold" mapstructure:"breaker-threshold"`
	BreakerTimeout   time.Duration `json:"breaker-timeout" mapstructure:"breaker-timeout"`

	flagName string
}

// NewEmbeddingOptions 创建默认 Embedding 供应商配置。
func NewEmbeddingOptions() *ProviderOptions {
	return &ProviderOptions{
		Provider:         ProviderOpenAI,
		BaseURL:          "https://api.openai.com/v1",
		Model:            "text-embedding-3-small",
		Dimensions:       1536,
		Timeout:          30 * time.Second,
		MaxRetries:       3,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
		flagName:         "embedding",
	}
}

// NewChatOptions 创建默认 Chat 供应商配置。
func NewChatOptions() *ProviderOptions {
	return &ProviderOptions{
		Provider:         ProviderGroq,
		BaseURL:          "https://api.groq.com/openai/v1",
		Model:            "llama-3.1-8b-instant",
		Temperature:      0,
		Timeout:          60 * time.Second,
		MaxRetries:       3,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
		flagName:         "chat",
	}
}

// AddFlags adds flags for LLM provider options to the specified FlagSet.
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + o.flagName + "."
	fs.StringVar(&o.Provider, p+"provider", o.Provider, "LLM provider (openai, groq, gemini).")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "LLM API base URL (OpenAI compatible providers).")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "LLM API key, defaults to the provider environment variable.")
	fs.StringVar(&o.Model, p+"model", o.Model, "LLM model name.")
	fs.Float64Var(&o.Temperature, p+"temperature", o.Temperature, "Sampling temperature.")
	fs.IntVar(&o.Dimensions, p+"dimensions", o.Dimensions, "Embedding vector dimension.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "LLM request timeout.")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "LLM maximum number of retries.")
	fs.IntVar(&o.BreakerThreshold, p+"breaker-threshold", o.BreakerThreshold, "Consecutive failures before the circuit opens.")
	fs.DurationVar(&o.BreakerTimeout, p+"breaker-timeout", o.BreakerTimeout, "Time the circuit stays open.")
}

// Complete 从环境变量补全 API 密钥。
func (o *ProviderOptions) Complete() {
	if o.APIKey != "" {
		return
	}
	switch o.Provider {
	case ProviderOpenAI:
		o.APIKey = os.Getenv("OPENAI_API_KEY")
	case ProviderGroq:
		o.APIKey = os.Getenv("GROQ_API_KEY")
	case ProviderGemini:
		o.APIKey = os.Getenv("GEMINI_API_KEY")
		if o.APIKey == "" {
			o.APIKey = os.Getenv("GOOGLE_API_KEY")
		}
	}
}

// Validate validates the LLM provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Provider {
	case ProviderOpenAI, ProviderGroq:
		if o.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base-url is required", o.flagName))
		}
	case ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("%s.provider %q is not supported", o.flagName, o.Provider))
	}
	if o.Model == "" {
		errs = append(errs, fmt.Errorf("%s.model is required", o.flagName))
	}
	if o.APIKey == "" {
		errs = append(errs, fmt.Errorf("%s.api-key is required for provider %s", o.flagName, o.Provider))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must be positive", o.flagName))
	}
	if o.flagName == "embedding" && o.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimensions must be positive"))
	}
	return errs
}

// ToConfigMap 转换为供应商工厂使用的配置 map。
// 重试交给 resilience 包装器，HTTP 客户端自身不再重试。
func (o *ProviderOptions) ToConfigMap() map[string]any {
	m := map[string]any{
		"api_key":     o.APIKey,
		"embed_model": o.Model,
		"chat_model":  o.Model,
		"timeout":     o.Timeout,
		"max_retries": 0,
		"temperature": o.Temperature,
	}
	if o.Provider != ProviderGemini {
		m["base_url"] = o.BaseURL
	}
	if o.Dimensions > 0 {
		m["dimensions"] = o.Dimensions
	}
	return m
}
