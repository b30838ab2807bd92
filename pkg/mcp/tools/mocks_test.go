package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/services"
)

type mockQueryService struct {
	askResp      *services.AskResponse
	askErr       error
	validateResp *services.ValidateSQLResponse
	validateErr  error

	lastAsk      *services.AskRequest
	lastValidate *services.ValidateSQLRequest
}

func (m *mockQueryService) Ask(_ context.Context, req *services.AskRequest) (*services.AskResponse, error) {
	m.lastAsk = req
	return m.askResp, m.askErr
}

func (m *mockQueryService) ValidateSQL(_ context.Context, req *services.ValidateSQLRequest) (*services.ValidateSQLResponse, error) {
	m.lastValidate = req
	return m.validateResp, m.validateErr
}

type mockClassifier struct {
	result *models.ClassificationResult
}

func (m *mockClassifier) Classify(_, _ string) *models.ClassificationResult {
	return m.result
}

type mockSchemaStatus struct {
	loaded bool
	tables []string
}

func (m *mockSchemaStatus) Loaded() bool         { return m.loaded }
func (m *mockSchemaStatus) TableNames() []string { return m.tables }

// toolResponse is the decoded JSON-RPC reply to a tools/call message.
type toolResponse struct {
	Result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// callTool executes an MCP tool via the server's HandleMessage method.
func callTool(t *testing.T, ctx context.Context, s *server.MCPServer, name string, args map[string]any) toolResponse {
	t.Helper()

	reqBytes, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	result := s.HandleMessage(ctx, reqBytes)
	resultBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}

	var resp toolResponse
	if err := json.Unmarshal(resultBytes, &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return resp
}

// text returns the first text content of a tool response.
func (r toolResponse) text(t *testing.T) string {
	t.Helper()
	if len(r.Result.Content) == 0 {
		t.Fatal("expected content in response")
	}
	return r.Result.Content[0].Text
}
