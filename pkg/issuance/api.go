/*
Package issuance runs the end-to-end certificate pipeline for one
gateway: register the CA account, order a certificate per domain, stage
the HTTP-01 challenge on the responder and the gateway, wait for
validation, then convert and deploy the issued certificate. Domains are
processed sequentially and failures are isolated per domain.
*/
package issuance

import (
	"context"
	"time"

	"github.com/Cloud-Foundations/Dominator/lib/log"
	"github.com/Cloud-Foundations/agwcert/pkg/acmeclient"
)

// Responder publishes challenge responses where the CA can fetch them.
type Responder interface {
	Publish(ctx context.Context, token, keyAuthorization string) error
	Cleanup(ctx context.Context) error
}

// CAClient is the ACME order state machine the orchestrator drives.
// *acmeclient.Client satisfies it.
type CAClient interface {
	RegisterAccount(ctx context.Context, email, keyPath string) (string,
		error)
	CreateOrder(ctx context.Context,
		domains []string) (*acmeclient.Order, error)
	ExtractChallenges(ctx context.Context,
		order *acmeclient.Order) ([]acmeclient.Challenge, error)
	AnswerChallenges(ctx context.Context, order *acmeclient.Order,
		challenges []acmeclient.Challenge) error
	PollUntilValid(ctx context.Context, order *acmeclient.Order,
		timeout, interval time.Duration) error
	FinalizeOrder(ctx context.Context, order *acmeclient.Order,
		csrDER []byte) error
	DownloadCertificate(ctx context.Context,
		order *acmeclient.Order) (string, error)
}

// GatewayControl is the slice of the gateway client the orchestrator
// needs. *gateway.Client satisfies it.
type GatewayControl interface {
	UploadCertificate(ctx context.Context, gatewayName, certName string,
		pfxData []byte, password string) error
	UpdateListenerCertificate(ctx context.Context,
		gatewayName, listenerName, certName string) error
	CreateChallengeRule(ctx context.Context,
		gatewayName, ruleName, backendPool, backendSettings string) error
	DeleteRoutingRule(ctx context.Context,
		gatewayName, ruleName string) error
}

// Config parameterises an Orchestrator for one gateway.
type Config struct {
	Email          string
	AccountKeyPath string
	GatewayName    string

	// BackendPool and BackendSettings route challenge traffic to the
	// responder.
	BackendPool     string
	BackendSettings string

	PollTimeout  time.Duration // default 5 minutes
	PollInterval time.Duration // default 5 seconds
}

// Target is one domain to issue for, bound to an HTTPS listener.
type Target struct {
	Domain   string
	Listener string
}

// Summary accumulates per-domain outcomes of a batch.
type Summary struct {
	Succeeded int
	Failed    int
}

// String renders the batch outcome on one line.
func (s Summary) String() string {
	return s.describe()
}

// Orchestrator issues certificates on one gateway. It is not safe for
// concurrent use: gateway updates are whole-resource read-modify-write
// and the responder holds a single challenge slot.
type Orchestrator struct {
	config         Config
	ca             CAClient
	gw             GatewayControl
	responder      Responder
	logger         log.DebugLogger
	registered     bool
	randomPassword func() (string, error)
}

// New returns an Orchestrator. The configuration must name the gateway
// and the challenge backend pool and settings.
func New(config Config, ca CAClient, gw GatewayControl,
	responder Responder, logger log.DebugLogger) (*Orchestrator, error) {
	return newOrchestrator(config, ca, gw, responder, logger)
}

// IssueDomain runs the whole pipeline for one target. Challenge staging
// (routing rule and responder slot) is cleaned up best-effort whether or
// not issuance succeeds.
func (o *Orchestrator) IssueDomain(ctx context.Context,
	target Target) error {
	return o.issueDomain(ctx, target)
}

// Run issues certificates for every target sequentially. One target's
// failure does not stop the rest.
func (o *Orchestrator) Run(ctx context.Context,
	targets []Target) Summary {
	return o.run(ctx, targets)
}

// CertificateName derives the gateway certificate name for a domain:
// dots become hyphens, with a "-cert" suffix.
func CertificateName(domain string) string {
	return certificateName(domain)
}

// ChallengeRuleName derives the temporary routing rule name for a
// domain.
func ChallengeRuleName(domain string) string {
	return challengeRuleName(domain)
}
