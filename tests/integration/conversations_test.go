//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
)

func postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(testServer.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

type conversationBody struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Mode   string `json:"mode"`
}

type messageBody struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	TokensOut      int    `json:"tokens_out"`
}

func createConversation(t *testing.T, userID string) conversationBody {
	t.Helper()
	resp := postJSON(t, "/api/v1/conversations", map[string]string{"user_id": userID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create conversation: status %d", resp.StatusCode)
	}
	return decodeBody[conversationBody](t, resp)
}

func TestConversationLifecycle(t *testing.T) {
	conv := createConversation(t, "it-user-1")
	if conv.ID == "" {
		t.Fatal("conversation has no id")
	}
	if conv.Title != "New conversation" {
		t.Fatalf("default title = %q", conv.Title)
	}
	if conv.Mode != "conversational" {
		t.Fatalf("default mode = %q", conv.Mode)
	}

	resp, err := http.Get(testServer.URL + "/api/v1/conversations?user_id=it-user-1")
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	convs := decodeBody[[]conversationBody](t, resp)
	found := false
	for _, c := range convs {
		if c.ID == conv.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("created conversation missing from list of %d", len(convs))
	}

	req, _ := http.NewRequest(http.MethodDelete, testServer.URL+"/api/v1/conversations/"+conv.ID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete conversation: %v", err)
	}
	_ = delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", delResp.StatusCode)
	}

	getResp, err := http.Get(testServer.URL + "/api/v1/conversations/" + conv.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	_ = getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: status %d, want 404", getResp.StatusCode)
	}
}

func TestSendMessagePersistsTurn(t *testing.T) {
	conv := createConversation(t, "it-user-2")

	resp := postJSON(t, fmt.Sprintf("/api/v1/conversations/%s/messages", conv.ID),
		map[string]string{"content": "remember that I prefer window seats"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send message: status %d", resp.StatusCode)
	}
	reply := decodeBody[messageBody](t, resp)
	if reply.Role != "assistant" {
		t.Fatalf("reply role = %q", reply.Role)
	}
	if reply.Content == "" {
		t.Fatal("reply has no content")
	}

	listResp, err := http.Get(fmt.Sprintf("%s/api/v1/conversations/%s/messages", testServer.URL, conv.ID))
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	msgs := decodeBody[[]messageBody](t, listResp)
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want user + assistant", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("message roles = %q, %q", msgs[0].Role, msgs[1].Role)
	}
}

func TestSendMessageValidation(t *testing.T) {
	conv := createConversation(t, "it-user-3")

	resp := postJSON(t, fmt.Sprintf("/api/v1/conversations/%s/messages", conv.ID),
		map[string]string{"content": "   "})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank message: status %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, "/api/v1/conversations/00000000-0000-0000-0000-000000000000/messages",
		map[string]string{"content": "hello"})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing conversation: status %d, want 404", resp.StatusCode)
	}
}
