package httpresponder

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Cloud-Foundations/Dominator/lib/log/testlogger"
)

type recordedRequest struct {
	path  string
	query string
	body  string
}

func TestPublish(t *testing.T) {
	var got recordedRequest
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, req *http.Request) {
			body, _ := io.ReadAll(req.Body)
			got = recordedRequest{
				path:  req.URL.Path,
				query: req.URL.RawQuery,
				body:  string(body),
			}
		}))
	defer server.Close()
	publisher, err := New(server.URL, testlogger.New(t))
	if err != nil {
		t.Fatal(err)
	}
	err = publisher.Publish(context.Background(), "tok0", "tok0.keyauth")
	if err != nil {
		t.Fatal(err)
	}
	if got.path != RecordResponsePath {
		t.Errorf("unexpected path: %s", got.path)
	}
	if got.query != ChallengePathPrefix+"tok0" {
		t.Errorf("unexpected query: %s", got.query)
	}
	if got.body != "tok0.keyauth" {
		t.Errorf("unexpected body: %s", got.body)
	}
}

func TestPublishFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, "conflict", http.StatusConflict)
		}))
	defer server.Close()
	publisher, err := New(server.URL, testlogger.New(t))
	if err != nil {
		t.Fatal(err)
	}
	err = publisher.Publish(context.Background(), "tok0", "tok0.keyauth")
	if err == nil {
		t.Error("expected error on non-200 response")
	}
	if err := publisher.Publish(context.Background(), "",
		"keyauth"); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestCleanup(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, req *http.Request) {
			gotPath = req.URL.Path
		}))
	defer server.Close()
	publisher, err := New(server.URL, testlogger.New(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := publisher.Cleanup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotPath != CleanupResponsesPath {
		t.Errorf("unexpected path: %s", gotPath)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("10.0.0.4:8080", testlogger.New(t)); err == nil {
		t.Error("expected error for URL without scheme")
	}
}
