package oracle

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"

	"github.com/fentz26/uta/internal/config"
	"github.com/fentz26/uta/internal/models"
)

func TestRender(t *testing.T) {
	req := Request{
		Kind:             KindAction,
		Task:             "Turn on Wi-Fi",
		Tree:             "[0] FrameLayout\n  [1] Switch (leaf,clickable)",
		History:          "1. Click 4",
		ExcludedElements: []int{4, 9},
		Notes:            []string{"The keyboard is not shown."},
	}
	system, user := Render(req)

	if !strings.Contains(system, `"Scroll Down"`) || !strings.Contains(system, `"Input"`) {
		t.Errorf("Action kinds missing from system prompt:\n%s", system)
	}
	for _, want := range []string{"## Task\nTurn on Wi-Fi", "## Screen\n[0] FrameLayout", "## History\n1. Click 4", "## Excluded elements\n4, 9", "## Note\nThe keyboard is not shown."} {
		if !strings.Contains(user, want) {
			t.Errorf("User prompt missing %q:\n%s", want, user)
		}
	}
	if strings.Contains(user, "Candidate packages") {
		t.Error("Empty sections should be omitted")
	}
}

func TestWithRetry(t *testing.T) {
	var calls atomic.Int32
	flaky := Func(func(ctx context.Context, req Request) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("connection reset")
		}
		return `{"ok": "yes"}`, nil
	})

	out, err := WithRetry(flaky, 2, time.Millisecond).Decide(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if out != `{"ok": "yes"}` || calls.Load() != 3 {
		t.Errorf("Expected success on third call, got %q after %d", out, calls.Load())
	}

	calls.Store(0)
	_, err = WithRetry(flaky, 1, time.Millisecond).Decide(context.Background(), Request{})
	if err == nil || calls.Load() != 2 {
		t.Errorf("Expected failure after 2 calls, got %v after %d", err, calls.Load())
	}
}

func TestWithRetry_ZeroIsPassthrough(t *testing.T) {
	o := Func(func(ctx context.Context, req Request) (string, error) { return "", errors.New("down") })
	wrapped := WithRetry(o, 0, time.Second)
	if _, err := wrapped.Decide(context.Background(), Request{}); err == nil {
		t.Error("Expected error")
	}
}

func TestClient_WrapsFailures(t *testing.T) {
	down := Func(func(ctx context.Context, req Request) (string, error) {
		return "", context.DeadlineExceeded
	})
	c := NewClient(down, nil, nil)

	_, _, err := c.Ask(context.Background(), Request{Kind: KindRelation})
	if !errors.Is(err, models.ErrDecisionFailure) {
		t.Errorf("Expected decision failure, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline cause, got %v", err)
	}

	garbage := Func(func(ctx context.Context, req Request) (string, error) { return "no idea", nil })
	_, raw, err := NewClient(garbage, nil, nil).Ask(context.Background(), Request{Kind: KindRelation})
	var de *models.DecisionError
	if !errors.As(err, &de) || de.Raw != "no idea" || raw != "no idea" {
		t.Errorf("Expected DecisionError carrying raw output, got %v", err)
	}

	empty := Func(func(ctx context.Context, req Request) (string, error) { return "", nil })
	if _, err := NewClient(empty, nil, nil).Raw(context.Background(), Request{}); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
}

type fakeCompletions struct {
	got   openai.ChatCompletionNewParams
	reply string
}

func (f *fakeCompletions) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.got = body
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.reply}}},
	}, nil
}

func TestOpenAI_Decide(t *testing.T) {
	fake := &fakeCompletions{reply: "  {\"Relation\": \"Completed\"}\n"}
	o := &OpenAI{completions: fake, model: "gpt-4o", maxTokens: 256}

	out, err := o.Decide(context.Background(), Request{Kind: KindRelation, Task: "x"})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if out != `{"Relation": "Completed"}` {
		t.Errorf("Unexpected output %q", out)
	}
	if string(fake.got.Model) != "gpt-4o" || len(fake.got.Messages) != 2 {
		t.Errorf("Unexpected request: model=%s messages=%d", fake.got.Model, len(fake.got.Messages))
	}
}

type fakeOllama struct {
	got    *api.ChatRequest
	chunks []string
}

func (f *fakeOllama) Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error {
	f.got = req
	for _, c := range f.chunks {
		if err := fn(api.ChatResponse{Message: api.Message{Role: "assistant", Content: c}}); err != nil {
			return err
		}
	}
	return nil
}

func TestOllama_Decide(t *testing.T) {
	fake := &fakeOllama{chunks: []string{`{"Can": `, `"Yes", "Element": 3}`}}
	o := &Ollama{client: fake, model: "llama3.1", maxTokens: 128}

	out, err := o.Decide(context.Background(), Request{Kind: KindBack})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if out != `{"Can": "Yes", "Element": 3}` {
		t.Errorf("Unexpected output %q", out)
	}
	if fake.got.Stream == nil || *fake.got.Stream {
		t.Error("Expected non-streaming request")
	}
	if fake.got.Options["num_predict"] != 128 {
		t.Errorf("Expected num_predict 128, got %v", fake.got.Options["num_predict"])
	}
}

type fakeGenerator struct {
	model string
	cfg   *genai.GenerateContentConfig
	reply string
	err   error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.cfg = model, cfg
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.reply, genai.RoleModel)}},
	}, nil
}

func TestGemini_Decide(t *testing.T) {
	fake := &fakeGenerator{reply: `{"Type": "System Function"}`}
	g := &Gemini{models: fake, model: "gemini-2.5-flash", maxTokens: 64}

	out, err := g.Decide(context.Background(), Request{Kind: KindClassify, Task: "turn on wifi"})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if out != `{"Type": "System Function"}` {
		t.Errorf("Unexpected output %q", out)
	}
	if fake.model != "gemini-2.5-flash" || fake.cfg.MaxOutputTokens != 64 || fake.cfg.SystemInstruction == nil {
		t.Errorf("Unexpected request config: %s %+v", fake.model, fake.cfg)
	}

	fake.err = errors.New("quota")
	if _, err := g.Decide(context.Background(), Request{Kind: KindClassify}); err == nil {
		t.Error("Expected error")
	}
}

func TestNew_Backends(t *testing.T) {
	if _, err := New(context.Background(), config.OracleConfig{Backend: "claude"}); !errors.Is(err, config.ErrUnknownBackend) {
		t.Errorf("Expected ErrUnknownBackend, got %v", err)
	}
	if _, err := New(context.Background(), config.OracleConfig{Backend: config.BackendOpenAI}); err == nil {
		t.Error("Expected missing key error")
	}
	o, err := New(context.Background(), config.OracleConfig{Backend: config.BackendOllama, Model: "llama3.1"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := o.(*Ollama); !ok {
		t.Errorf("Expected *Ollama without retries, got %T", o)
	}
}
