package freepik

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"server/internal/domain"
)

func TestSubmitReturnsTaskID(t *testing.T) {
	var gotPath, gotKey string
	var gotBody SubmitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-freepik-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"task_id":"task-123","status":"CREATED"}}`))
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "secret", BaseURL: srv.URL})
	resp, err := client.Submit(context.Background(), SubmitRequest{
		Image:    "https://cdn.example.com/a.jpg",
		Prompt:   "spin the product slowly",
		Duration: "5",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.TaskID != "task-123" {
		t.Fatalf("task id = %q, want task-123", resp.TaskID)
	}
	if resp.Status != "CREATED" {
		t.Fatalf("status = %q, want CREATED", resp.Status)
	}
	if gotPath != "/ai/image-to-video/kling-v2" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotKey != "secret" {
		t.Fatalf("api key header = %q", gotKey)
	}
	if gotBody.Image != "https://cdn.example.com/a.jpg" || gotBody.Duration != "5" {
		t.Fatalf("forwarded body mismatch: %+v", gotBody)
	}
}

func TestSubmitRequiresImage(t *testing.T) {
	client := NewClient(Options{APIKey: "secret"})
	if _, err := client.Submit(context.Background(), SubmitRequest{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestSubmitRejectedPropagatesProviderMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"image url is not reachable"}`))
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "secret", BaseURL: srv.URL})
	_, err := client.Submit(context.Background(), SubmitRequest{Image: "https://x/a.jpg"})
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("got %v, want ErrProviderRejected", err)
	}
	if want := "image url is not reachable"; err == nil || !strings.Contains(err.Error(), want) {
		t.Fatalf("error %v should echo provider message %q", err, want)
	}
}

func TestSubmitUnavailableOnConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewClient(Options{APIKey: "secret", BaseURL: srv.URL})
	_, err := client.Submit(context.Background(), SubmitRequest{Image: "https://x/a.jpg"})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("got %v, want ErrProviderUnavailable", err)
	}
}

func TestSubmitTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "secret", BaseURL: srv.URL, SubmitTimeout: 20 * time.Millisecond})
	_, err := client.Submit(context.Background(), SubmitRequest{Image: "https://x/a.jpg"})
	if !errors.Is(err, domain.ErrProviderTimeout) {
		t.Fatalf("got %v, want ErrProviderTimeout", err)
	}
}

func TestPollStatusCompleted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ai/image-to-video/kling-v2/task-123" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":{"task_id":"task-123","status":"COMPLETED","generated":["https://cdn.example.com/out.mp4"]}}`))
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "secret", BaseURL: srv.URL})
	resp, err := client.PollStatus(context.Background(), "task-123")
	if err != nil {
		t.Fatalf("PollStatus: %v", err)
	}
	if resp.Status != "COMPLETED" {
		t.Fatalf("status = %q", resp.Status)
	}
	if len(resp.Generated) != 1 || resp.Generated[0] != "https://cdn.example.com/out.mp4" {
		t.Fatalf("generated = %v", resp.Generated)
	}
}

func TestPollStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"task not found"}`))
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "secret", BaseURL: srv.URL})
	if _, err := client.PollStatus(context.Background(), "missing"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("got %v, want ErrTaskNotFound", err)
	}
}
