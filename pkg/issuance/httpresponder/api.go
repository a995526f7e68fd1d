/*
Package httpresponder publishes HTTP-01 challenge responses to a remote
challenge responder daemon over its control endpoints. The responder
serves the published key authorisation to the CA at the well-known
challenge path; this package only records and clears responses.

The responder holds a single active challenge slot, so callers must not
run overlapping challenges against one responder deployment.
*/
package httpresponder

import (
	"context"
	"net/http"

	"github.com/Cloud-Foundations/Dominator/lib/log"
)

const (
	// ChallengePathPrefix is where the CA fetches challenge responses.
	ChallengePathPrefix = "/.well-known/acme-challenge/"

	// RecordResponsePath records a challenge response. The challenge
	// path goes in the query string and the key authorisation in the
	// request body.
	RecordResponsePath = "/acme/record-response"

	// CleanupResponsesPath clears all recorded responses.
	CleanupResponsesPath = "/acme/cleanup-responses"
)

// Publisher records challenge responses on one responder daemon.
type Publisher struct {
	baseURL    string
	httpClient *http.Client
	logger     log.DebugLogger
}

// New returns a Publisher for the responder at baseURL, such as
// http://10.0.0.4:8080.
func New(baseURL string, logger log.DebugLogger) (*Publisher, error) {
	return newPublisher(baseURL, logger)
}

// Publish records the key authorisation for a challenge token so the
// responder starts serving it at the well-known path.
func (p *Publisher) Publish(ctx context.Context, token string,
	keyAuthorization string) error {
	return p.publish(ctx, token, keyAuthorization)
}

// Cleanup clears every recorded response on the responder.
func (p *Publisher) Cleanup(ctx context.Context) error {
	return p.cleanup(ctx)
}
