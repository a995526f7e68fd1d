/*
Package acmeclient implements the ACME (RFC 8555) side of the certificate
pipeline as an explicit state machine. The client moves from Unregistered
to Registered once the account exists; each order then moves through:

	OrderCreated -> ChallengesExtracted -> ChallengeAnswered -> Polling ->
	Valid | Invalid -> Finalized -> Downloaded

Operations refuse to run unless the order is in the expected state, so a
caller can never answer challenges it has not extracted or finalise an
order that did not validate. Network operations marked retryable are
attempted up to three times with exponential backoff.
*/
package acmeclient

import (
	"context"
	"crypto"
	"time"

	"github.com/Cloud-Foundations/Dominator/lib/log"
)

const (
	// LetsEncryptProductionURL is the production ACME directory endpoint.
	LetsEncryptProductionURL = "https://acme-v02.api.letsencrypt.org/directory"

	// LetsEncryptStagingURL is the staging directory endpoint. Use it for
	// integration testing: it issues untrusted certificates but has far
	// higher rate limits.
	LetsEncryptStagingURL = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

// State identifies where the issuance is in its lifecycle. The first two
// states describe the client's account registration; the rest are order
// states, starting at StateOrderCreated.
type State int

const (
	StateUnregistered State = iota
	StateRegistered
	StateOrderCreated
	StateChallengesExtracted
	StateChallengeAnswered
	StatePolling
	StateValid
	StateInvalid
	StateFinalized
	StateDownloaded
)

// Order tracks a single certificate order against the CA. All fields are
// managed by Client methods; construct orders with Client.CreateOrder only.
type Order struct {
	state       State
	domains     []string
	uri         string
	authzURLs   []string
	finalizeURL string
	certURL     string
	chainPEM    string
}

// State returns the current lifecycle state of the order.
func (o *Order) State() State { return o.state }

// Domains returns the identifiers the order was created for.
func (o *Order) Domains() []string { return o.domains }

// Challenge is one HTTP-01 challenge extracted from an order. The
// KeyAuthorization is the exact body the responder must serve at
// /.well-known/acme-challenge/<Token>.
type Challenge struct {
	Domain           string
	Token            string
	KeyAuthorization string
	Type             string

	id challengeID
}

// Client talks to one ACME directory on behalf of one account.
type Client struct {
	api    acmeAPI
	logger log.DebugLogger

	accountKey crypto.Signer
	accountURL string

	// Injectable for tests.
	sleep          func(time.Duration)
	now            func() time.Time
	retryBaseDelay time.Duration
}

// New returns a Client for the specified ACME directory. No network
// traffic happens until RegisterAccount is called.
func New(directoryURL string, logger log.DebugLogger) *Client {
	return newClient(directoryURL, logger)
}

// RegisterAccount ensures an ACME account exists for the specified email
// address, creating one if needed. The account key is read from keyPath;
// if the file does not exist a new RSA-2048 key is generated and written
// there with mode 0600. A CA response indicating the account already
// exists is treated as success. Returns the account URL.
func (c *Client) RegisterAccount(ctx context.Context, email string,
	keyPath string) (string, error) {
	return c.registerAccount(ctx, email, keyPath)
}

// CreateOrder submits a new order for the specified domains. The client
// must be registered first.
func (c *Client) CreateOrder(ctx context.Context,
	domains []string) (*Order, error) {
	return c.createOrder(ctx, domains)
}

// ExtractChallenges fetches every authorisation on the order and returns
// one HTTP-01 challenge per domain. An authorisation offering no HTTP-01
// challenge is a protocol error.
func (c *Client) ExtractChallenges(ctx context.Context,
	order *Order) ([]Challenge, error) {
	return c.extractChallenges(ctx, order)
}

// AnswerChallenges tells the CA that every challenge response is in place
// and validation may begin. The responder must already be serving the key
// authorisations before this is called.
func (c *Client) AnswerChallenges(ctx context.Context, order *Order,
	challenges []Challenge) error {
	return c.answerChallenges(ctx, order, challenges)
}

// PollUntilValid polls the order's authorisations at the specified
// interval until all are valid, any is invalid, or the timeout elapses.
// A timeout or an invalid authorisation is terminal for the order.
func (c *Client) PollUntilValid(ctx context.Context, order *Order,
	timeout, interval time.Duration) error {
	return c.pollUntilValid(ctx, order, timeout, interval)
}

// FinalizeOrder submits the DER-encoded CSR for a validated order. The
// finalisation has its own 90 second deadline and is never retried: a
// timed-out finalisation may still complete server-side, so retrying
// could issue duplicate certificates.
func (c *Client) FinalizeOrder(ctx context.Context, order *Order,
	csrDER []byte) error {
	return c.finalizeOrder(ctx, order, csrDER)
}

// DownloadCertificate returns the PEM certificate chain for a finalised
// order, leaf first.
func (c *Client) DownloadCertificate(ctx context.Context,
	order *Order) (string, error) {
	return c.downloadCertificate(ctx, order)
}
