package main

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/Cloud-Foundations/Dominator/lib/log"
	"github.com/Cloud-Foundations/agwcert/pkg/issuance/httpresponder"
)

const maxSize = 1 << 16

// challengeResponder serves ACME HTTP-01 challenge responses behind the
// gateway's challenge routing rule. It holds a single active challenge
// slot: recording a new response replaces the previous one, so callers
// must not run overlapping challenges against one responder.
type challengeResponder struct {
	logger   log.DebugLogger
	rwMutex  sync.RWMutex
	path     string // protected by rwMutex
	response []byte // protected by rwMutex
}

func newResponder(logger log.DebugLogger) *challengeResponder {
	return &challengeResponder{logger: logger}
}

func (r *challengeResponder) ServeHTTP(w http.ResponseWriter,
	req *http.Request) {
	r.logger.Debugf(1, "source: %s, method: %s, path: %s\n",
		req.RemoteAddr, req.Method, req.URL.Path)
	switch {
	case req.URL.Path == httpresponder.RecordResponsePath:
		r.recordHandler(w, req)
	case req.URL.Path == httpresponder.CleanupResponsesPath:
		r.cleanupHandler(w, req)
	case strings.HasPrefix(req.URL.Path,
		httpresponder.ChallengePathPrefix):
		r.challengeHandler(w, req)
	default:
		http.Error(w, "Not an ACME challenge", http.StatusNotFound)
	}
}

func (r *challengeResponder) recordHandler(w http.ResponseWriter,
	req *http.Request) {
	if req.Method != "POST" {
		http.Error(w, "Use POST", http.StatusMethodNotAllowed)
		return
	}
	path := req.URL.RawQuery
	if !strings.HasPrefix(path, httpresponder.ChallengePathPrefix) {
		http.Error(w, "Not an ACME challenge path", http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, maxSize+1))
	if err != nil {
		http.Error(w, "Cannot read body", http.StatusBadRequest)
		r.logger.Println(err)
		return
	}
	if len(data) > maxSize {
		http.Error(w, "Too much data", http.StatusNotAcceptable)
		return
	}
	if len(data) < 1 {
		http.Error(w, "Empty response", http.StatusBadRequest)
		return
	}
	r.rwMutex.Lock()
	r.path = path
	r.response = data
	r.rwMutex.Unlock()
	w.WriteHeader(http.StatusOK)
	r.logger.Printf("recorded response for path: %s\n", path)
}

func (r *challengeResponder) cleanupHandler(w http.ResponseWriter,
	req *http.Request) {
	if req.Method != "POST" {
		http.Error(w, "Use POST", http.StatusMethodNotAllowed)
		return
	}
	r.rwMutex.Lock()
	r.path = ""
	r.response = nil
	r.rwMutex.Unlock()
	w.WriteHeader(http.StatusOK)
	r.logger.Printf("cleaned up responses\n")
}

func (r *challengeResponder) challengeHandler(w http.ResponseWriter,
	req *http.Request) {
	if req.Method != "GET" {
		http.Error(w, "Use GET", http.StatusMethodNotAllowed)
		return
	}
	r.rwMutex.RLock()
	path, response := r.path, r.response
	r.rwMutex.RUnlock()
	if path == "" || req.URL.Path != path {
		http.Error(w, "No active challenge", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write(response)
}
