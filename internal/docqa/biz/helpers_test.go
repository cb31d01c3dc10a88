package biz

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kart-io/docqa/internal/docqa/blob"
	"github.com/kart-io/docqa/internal/docqa/store"
	"github.com/kart-io/docqa/pkg/llm"
)

const testDim = 4

// keywords 每个关键词占用一个向量维度，其余文本落在最后一维。
var keywords = []string{"alpha", "beta", "gamma"}

func keywordVector(text string) []float32 {
	v := make([]float32, testDim)
	lower := strings.ToLower(text)
	hit := false
	for i, kw := range keywords {
		if strings.Contains(lower, kw) {
			v[i] = 1
			hit = true
		}
	}
	if !hit {
		v[testDim-1] = 1
	}
	return v
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error

	// entered 非空时首次调用关闭 entered 并等待 release
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// hold 让下一次 Embed 阻塞到 release 关闭。
func (f *fakeEmbedder) hold() (entered, release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entered, f.release = make(chan struct{}), make(chan struct{})
	return f.entered, f.release
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		f.once.Do(func() {
			close(entered)
			<-release
		})
	}
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = keywordVector(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vs, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (f *fakeEmbedder) Name() string { return "fake" }

// fakeChat 摘要请求返回固定摘要，其余请求交给 answer。
type fakeChat struct {
	mu        sync.Mutex
	answer    func(messages []llm.Message) (string, error)
	summary   string
	summaries int
	calls     [][]llm.Message
}

func newFakeChat(answer string) *fakeChat {
	return &fakeChat{
		answer:  func([]llm.Message) (string, error) { return answer, nil },
		summary: "The user asked about alpha. Standalone question: what is alpha?",
	}
}

func (f *fakeChat) Chat(_ context.Context, messages []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(messages) > 0 && messages[0].Content == summarizerPrompt {
		f.summaries++
		return f.summary, nil
	}
	f.calls = append(f.calls, messages)
	return f.answer(messages)
}

func (f *fakeChat) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return f.Chat(ctx, []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}, {Role: llm.RoleUser, Content: prompt}})
}

func (f *fakeChat) Name() string { return "fake" }

func (f *fakeChat) answerCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// buildPDF 生成每页一行文本的最小 PDF。
func buildPDF(pages ...string) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	n := len(pages)
	fontID := 3 + 2*n
	kids := ""
	for i := 0; i < n; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+2*i)
	}

	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n))
	for i, text := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 %d 0 R >> >> >>", 4+2*i, fontID))
		content := ""
		if text != "" {
			content = fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		}
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// threePagePDF 每页长度在 40 到 60 个字符之间，按 60/10 切分得到 3 块。
func threePagePDF() []byte {
	return buildPDF(
		"Alpha reactors convert sunlight into stored power",
		"Beta modules route the stored power to the grid",
		"Gamma sensors report the grid load every minute",
	)
}

// testClock 可手动推进的时钟。
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	svc      *DocQAService
	vectors  *store.ChromemStore
	sessions *store.MemorySessionStore
	blobs    *blob.MemoryStore
	embedder *fakeEmbedder
	chat     *fakeChat
	clock    *testClock
}

func testServiceConfig() *ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.IndexerConfig.ChunkSize = 60
	cfg.IndexerConfig.ChunkOverlap = 10
	cfg.IndexerConfig.EmbeddingDim = testDim
	cfg.IndexerConfig.Collection = "test"
	cfg.RetrieverConfig.Collection = "test"
	cfg.SessionConfig.Collection = "test"
	return cfg
}

func newTestEnv(t *testing.T, cfg *ServiceConfig) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = testServiceConfig()
	}
	vectors, err := store.NewChromemStore("")
	require.NoError(t, err)

	env := &testEnv{
		vectors:  vectors,
		sessions: store.NewMemorySessionStore(),
		blobs:    blob.NewMemoryStore(),
		embedder: &fakeEmbedder{},
		chat:     newFakeChat("**Alpha reactors** convert sunlight into stored power."),
		clock:    newTestClock(),
	}
	env.svc = NewDocQAService(env.vectors, env.sessions, env.blobs, env.embedder, env.chat, nil, cfg, WithClock(env.clock.Now))
	return env
}

func (e *testEnv) upload(t *testing.T, sessionID string) *UploadResult {
	t.Helper()
	res, err := e.svc.Upload(context.Background(), &UploadRequest{
		SessionID:   sessionID,
		FileName:    "Energy Report.pdf",
		ContentType: "application/pdf",
		Data:        threePagePDF(),
	})
	require.NoError(t, err)
	return res
}
