package chat

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestCleanReply(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"你好", "你好"},
		{"<think>用户在打招呼</think>\n你好呀", "你好呀"},
		{"答案<think>未闭合", "答案"},
		{"  \n ok \n", "ok"},
	}
	for _, tt := range tests {
		if got := CleanReply(tt.in); got != tt.want {
			t.Errorf("CleanReply(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestHistory_KeepsRecentTurns(t *testing.T) {
	h := NewHistory(2)
	h.Add("q1", "a1")
	h.Add("q2", "a2")
	h.Add("q3", "a3")

	msgs := h.Messages()
	if len(msgs) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "q2" || msgs[3].Content != "a3" {
		t.Errorf("Expected q2..a3, got %+v", msgs)
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("Unexpected roles %+v", msgs)
	}
}

func TestHistory_Disabled(t *testing.T) {
	h := NewHistory(0)
	h.Add("q", "a")
	if len(h.Messages()) != 0 {
		t.Error("Expected no history when disabled")
	}
}

func TestOpenAIClient_Chat(t *testing.T) {
	var body struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"<think>x</think>今天晴天。"}}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient("sk-test", srv.URL+"/v1/", "gpt-4o-mini", "你是小智", srv.Client())
	if err != nil {
		t.Fatalf("NewOpenAIClient failed: %v", err)
	}

	reply, err := c.Chat(context.Background(), Request{
		Text:    "今天天气怎么样",
		History: []Message{{Role: RoleUser, Content: "你好"}, {Role: RoleAssistant, Content: "你好呀"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if reply != "今天晴天。" {
		t.Errorf("Expected cleaned reply, got %q", reply)
	}
	if body.Model != "gpt-4o-mini" {
		t.Errorf("Expected model gpt-4o-mini, got %q", body.Model)
	}
	if len(body.Messages) != 4 {
		t.Fatalf("Expected system+2 history+user messages, got %d", len(body.Messages))
	}
	roles := []string{"system", "user", "assistant", "user"}
	for i, m := range body.Messages {
		if m.Role != roles[i] {
			t.Errorf("Message %d: expected role %s, got %s", i, roles[i], m.Role)
		}
	}
}

func TestNewOpenAIClient_RequiresModel(t *testing.T) {
	if _, err := NewOpenAIClient("k", "", "", "", nil); err == nil {
		t.Error("Expected error for empty model")
	}
}

func startOrchestrator(t *testing.T, reply func(*structpb.Struct) *structpb.Struct) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: OrchestratorService,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Chat",
			Handler: func(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return reply(in), nil
			},
		}},
	}, struct{}{})

	hs := health.NewServer()
	hs.SetServingStatus(OrchestratorService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestOrchestratorClient_Chat(t *testing.T) {
	var got map[string]interface{}
	addr := startOrchestrator(t, func(in *structpb.Struct) *structpb.Struct {
		got = in.AsMap()
		out, _ := structpb.NewStruct(map[string]interface{}{"text": "好的"})
		return out
	})

	c, err := NewOrchestratorClient(addr, false, "prompt")
	if err != nil {
		t.Fatalf("NewOrchestratorClient failed: %v", err)
	}
	defer c.Close()

	reply, err := c.Chat(context.Background(), Request{
		SessionID: "s1",
		Text:      "开灯",
		History:   []Message{{Role: RoleUser, Content: "你好"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if reply != "好的" {
		t.Errorf("Expected 好的, got %q", reply)
	}
	if got["text"] != "开灯" || got["conversation_id"] != "s1" {
		t.Errorf("Unexpected request %v", got)
	}
	if h, ok := got["history"].([]interface{}); !ok || len(h) != 1 {
		t.Errorf("Expected one history entry, got %v", got["history"])
	}

	healthy, err := c.HealthCheck(context.Background())
	if err != nil || !healthy {
		t.Errorf("Expected healthy orchestrator, got %v %v", healthy, err)
	}
}

func TestOrchestratorClient_ErrorField(t *testing.T) {
	addr := startOrchestrator(t, func(in *structpb.Struct) *structpb.Struct {
		out, _ := structpb.NewStruct(map[string]interface{}{"error": "quota exceeded"})
		return out
	})

	c, _ := NewOrchestratorClient(addr, false, "")
	defer c.Close()

	if _, err := c.Chat(context.Background(), Request{Text: "hi"}); err == nil {
		t.Error("Expected orchestrator error")
	}
}

func TestOrchestratorClient_Closed(t *testing.T) {
	c, err := NewOrchestratorClient("127.0.0.1:1", false, "")
	if err != nil {
		t.Fatalf("NewOrchestratorClient failed: %v", err)
	}
	c.Close()

	if _, err := c.Chat(context.Background(), Request{Text: "hi"}); err == nil {
		t.Error("Expected error after close")
	}
}

func TestOpenAIClient_ImagePart(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"一只猫"}}]}`))
	}))
	defer srv.Close()

	img := filepath.Join(t.TempDir(), "cam.png")
	if err := os.WriteFile(img, []byte("\x89PNG"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, _ := NewOpenAIClient("sk-test", srv.URL+"/v1/", "gpt-4o-mini", "", srv.Client())

	reply, err := c.Chat(context.Background(), Request{Text: "这是什么", ImagePath: img})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if reply != "一只猫" {
		t.Errorf("Expected 一只猫, got %q", reply)
	}

	msgs, _ := raw["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("Expected one user message, got %d", len(msgs))
	}
	parts, _ := msgs[0].(map[string]any)["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("Expected text and image parts, got %v", msgs[0])
	}
	url, _ := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("Expected png data url, got %q", url)
	}
}

func TestOpenAIClient_MissingImage(t *testing.T) {
	c, _ := NewOpenAIClient("sk-test", "http://127.0.0.1:1/v1/", "m", "", nil)

	if _, err := c.Chat(context.Background(), Request{Text: "看", ImagePath: "/nonexistent.jpg"}); err == nil {
		t.Error("Expected error for missing image")
	}
}
