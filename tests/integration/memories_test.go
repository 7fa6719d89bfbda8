//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
)

type memoryBody struct {
	ID         string   `json:"id"`
	UserID     string   `json:"user_id"`
	Content    string   `json:"content"`
	Kind       string   `json:"kind"`
	Tags       []string `json:"tags"`
	Importance float64  `json:"importance"`
}

func createMemory(t *testing.T, userID, content, kind string) memoryBody {
	t.Helper()
	resp := postJSON(t, "/api/v1/memories", map[string]any{
		"user_id":    userID,
		"content":    content,
		"kind":       kind,
		"importance": 0.6,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create memory: status %d", resp.StatusCode)
	}
	return decodeBody[memoryBody](t, resp)
}

func TestMemoryCRUD(t *testing.T) {
	m := createMemory(t, "it-mem-1", "Prefers aisle seats on long flights", "preference")
	if m.ID == "" {
		t.Fatal("memory has no id")
	}

	resp, err := http.Get(testServer.URL + "/api/v1/memories/" + m.ID)
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	got := decodeBody[memoryBody](t, resp)
	if got.Content != m.Content || got.Kind != "preference" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	update, _ := json.Marshal(map[string]any{"importance": 0.9})
	req, _ := http.NewRequest(http.MethodPut, testServer.URL+"/api/v1/memories/"+m.ID, bytes.NewReader(update))
	req.Header.Set("Content-Type", "application/json")
	putResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("update memory: %v", err)
	}
	updated := decodeBody[memoryBody](t, putResp)
	if updated.Importance != 0.9 {
		t.Fatalf("importance = %f after update", updated.Importance)
	}

	delReq, _ := http.NewRequest(http.MethodDelete, testServer.URL+"/api/v1/memories/"+m.ID, nil)
	delResp, err := http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatalf("delete memory: %v", err)
	}
	_ = delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", delResp.StatusCode)
	}
}

func TestMemoryListFilters(t *testing.T) {
	createMemory(t, "it-mem-2", "Training for a spring marathon", "goal")
	createMemory(t, "it-mem-2", "Works as a data engineer", "personal")

	resp, err := http.Get(testServer.URL + "/api/v1/memories?user_id=it-mem-2&kind=goal")
	if err != nil {
		t.Fatalf("list memories: %v", err)
	}
	mems := decodeBody[[]memoryBody](t, resp)
	if len(mems) != 1 || mems[0].Kind != "goal" {
		t.Fatalf("kind filter returned %+v", mems)
	}
}

func TestMemoryValidationRejected(t *testing.T) {
	resp := postJSON(t, "/api/v1/memories", map[string]any{
		"user_id": "it-mem-3",
		"content": "",
		"kind":    "fact",
	})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty content: status %d, want 400", resp.StatusCode)
	}
}

func TestMemoryStats(t *testing.T) {
	createMemory(t, "it-mem-4", "Has two cats", "personal")

	resp, err := http.Get(testServer.URL + "/api/v1/memories/stats?user_id=it-mem-4")
	if err != nil {
		t.Fatalf("memory stats: %v", err)
	}
	var stats struct {
		Total  int            `json:"total"`
		ByKind map[string]int `json:"by_kind"`
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total < 1 || stats.ByKind["personal"] < 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
