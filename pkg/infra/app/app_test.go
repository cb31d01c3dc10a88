package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServerOptions struct {
	Addr    string        `mapstructure:"addr"`
	Timeout time.Duration `mapstructure:"timeout"`
	Origins []string      `mapstructure:"origins"`
}

type testOptions struct {
	Server    *testServerOptions `mapstructure:"server"`
	APIKey    string             `mapstructure:"api-key"`
	completed bool
	invalid   bool
}

func newTestOptions() *testOptions {
	return &testOptions{Server: &testServerOptions{Addr: ":8000", Timeout: time.Second, Origins: []string{"*"}}}
}

func (o *testOptions) Flags() (fss NamedFlagSets) {
	fs := fss.FlagSet("server")
	fs.StringVar(&o.Server.Addr, "server.addr", o.Server.Addr, "addr")
	fs.DurationVar(&o.Server.Timeout, "server.timeout", o.Server.Timeout, "timeout")
	fs.StringSliceVar(&o.Server.Origins, "server.origins", o.Server.Origins, "origins")
	fss.FlagSet("misc").StringVar(&o.APIKey, "api-key", o.APIKey, "key")
	return fss
}

func (o *testOptions) Complete() error { o.completed = true; return nil }

func (o *testOptions) Validate() error {
	if o.invalid {
		return errors.New("invalid options")
	}
	return nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docqa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestAppPrecedence(t *testing.T) {
	cfg := writeConfig(t, "server:\n  addr: \":9000\"\n  timeout: 5s\napi-key: ${DOCQA_TEST_SECRET}\n")
	t.Setenv("DOCQA_TEST_SECRET", "from-expansion")
	t.Setenv("DOCQA_SERVER_TIMEOUT", "7s")
	t.Setenv("DOCQA_SERVER_ORIGINS", "https://a.example,https://b.example")

	opts := newTestOptions()
	ran := false
	a := NewApp(
		WithName("docqa"),
		WithNoVersion(),
		WithOptions(opts),
		WithRunFunc(func() error { ran = true; return nil }),
	)
	a.Command().SetArgs([]string{"--config", cfg, "--env-file", "", "--server.addr", ":7000"})

	require.NoError(t, a.Command().Execute())
	assert.True(t, ran)
	assert.True(t, opts.completed)
	// flag > env > config > default
	assert.Equal(t, ":7000", opts.Server.Addr)
	assert.Equal(t, 7*time.Second, opts.Server.Timeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, opts.Server.Origins)
	assert.Equal(t, "from-expansion", opts.APIKey)
}

func TestAppDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DOCQA_API_KEY=dotenv-key\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("DOCQA_API_KEY") })

	opts := newTestOptions()
	a := NewApp(WithName("docqa"), WithNoVersion(), WithOptions(opts))
	a.Command().SetArgs([]string{"--config", writeConfig(t, "{}\n"), "--env-file", envFile})

	require.NoError(t, a.Command().Execute())
	assert.Equal(t, "dotenv-key", opts.APIKey)
}

func TestAppValidationError(t *testing.T) {
	opts := newTestOptions()
	opts.invalid = true
	a := NewApp(WithName("docqa"), WithNoVersion(), WithNoConfig(), WithSilence(), WithOptions(opts),
		WithRunFunc(func() error { t.Fatal("run must not be called"); return nil }))
	a.Command().SetArgs([]string{})

	assert.EqualError(t, a.Command().Execute(), "invalid options")
}

func TestAppBadEnvValue(t *testing.T) {
	t.Setenv("DOCQA_SERVER_TIMEOUT", "not-a-duration")

	opts := newTestOptions()
	a := NewApp(WithName("docqa"), WithNoVersion(), WithSilence(), WithOptions(opts))
	a.Command().SetArgs([]string{"--config", writeConfig(t, "{}\n"), "--env-file", ""})

	err := a.Command().Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOCQA_SERVER_TIMEOUT")
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "DOCQA_EMBEDDING_BASE_URL", EnvName("DOCQA", "embedding.base-url"))
}

func TestNamedFlagSetsOrder(t *testing.T) {
	var fss NamedFlagSets
	fss.FlagSet("http")
	fss.FlagSet("log")
	fss.FlagSet("http")
	assert.Equal(t, []string{"http", "log"}, fss.Order)
}
