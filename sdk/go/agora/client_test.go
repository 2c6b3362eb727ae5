package agora

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRegisterAgent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/agents" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var payload AgentRegistration
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Name != "ChartBot_Pro_v1" || payload.Capability != "generate_charts" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Agent{
			ID:         "agent-1",
			Name:       payload.Name,
			Capability: payload.Capability,
			Price:      payload.Price,
			Rating:     5.0,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	agent, err := client.RegisterAgent(context.Background(), AgentRegistration{
		Name:       "ChartBot_Pro_v1",
		Capability: "generate_charts",
		Price:      0.05,
		Endpoint:   "http://chartbot-pro:9000/run",
	})
	if err != nil {
		t.Fatalf("register agent: %v", err)
	}
	if agent.ID != "agent-1" || agent.Rating != 5.0 {
		t.Fatalf("unexpected agent: %+v", agent)
	}
}

func TestListAgentsFiltersByCapability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("capability"); got != "summarize_text" {
			t.Fatalf("unexpected capability filter: %q", got)
		}
		_ = json.NewEncoder(w).Encode([]Agent{{ID: "agent-2", Capability: "summarize_text"}})
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	agents, err := client.ListAgents(context.Background(), "summarize_text")
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != "agent-2" {
		t.Fatalf("unexpected agents: %+v", agents)
	}
}

func TestSubmitJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/jobs" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var payload JobSubmission
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.BuyerID != "buyer-1" || payload.Profile != "budget" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Job{ID: "job-1", BuyerID: payload.BuyerID, Status: "pending"})
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	created, err := client.SubmitJob(context.Background(), JobSubmission{
		BuyerID:    "buyer-1",
		Capability: "generate_charts",
		Payload:    "quarterly revenue",
		Profile:    "budget",
	})
	if err != nil {
		t.Fatalf("submit job: %v", err)
	}
	if created.ID != "job-1" || created.Status != "pending" {
		t.Fatalf("unexpected job: %+v", created)
	}
}

func TestWaitForJobPollsUntilTerminal(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/jobs/job-9" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		calls++
		status := "running"
		if calls >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(Job{
			ID:     "job-9",
			Status: status,
			Result: &JobResult{Artifact: "chart.png", SellerName: "ChartBot_Pro_v1"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	detail, err := client.WaitForJob(context.Background(), "job-9", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait for job: %v", err)
	}
	if detail.Status != "succeeded" {
		t.Fatalf("expected terminal status, got %q", detail.Status)
	}
	if detail.Result == nil || detail.Result.SellerName != "ChartBot_Pro_v1" {
		t.Fatalf("unexpected result: %+v", detail.Result)
	}
	if calls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "任务不存在",
			"code":  "JOB_NOT_FOUND",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	_, err := client.GetJob(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "JOB_NOT_FOUND" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/wallets/alice" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(WalletBalance{Account: "alice", Balance: 9.95})
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	balance, err := client.Balance(context.Background(), "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Balance != 9.95 {
		t.Fatalf("unexpected balance: %+v", balance)
	}
}
