/*
Package gateway manipulates Azure Application Gateway resources: SSL
certificate upload, listener certificate binding and the temporary
path-based routing rules that steer ACME HTTP-01 traffic to the challenge
responder. The Application Gateway API is whole-resource: every mutation
reads the full gateway, edits it in memory and writes it back, then waits
for the asynchronous update to settle (up to 10 minutes).
*/
package gateway

import (
	"context"
	"time"

	"github.com/Cloud-Foundations/Dominator/lib/log"
)

// ChallengeRulePrefix prefixes the name of every routing rule this tool
// creates, so stale rules can be found and cleaned up later.
const ChallengeRulePrefix = "acme-challenge-"

// CertificateInfo describes one SSL certificate installed on a gateway.
// A zero Expiry means the expiry is unknown, which happens for Key Vault
// certificate references: the gateway only stores the secret URL.
type CertificateInfo struct {
	Name   string
	Expiry time.Time
}

// Client manages Application Gateways within one subscription and
// resource group.
type Client struct {
	api           gatewayAPI
	resourceGroup string
	logger        log.DebugLogger
}

// New returns a Client authenticated with the default Azure credential
// chain (environment, workload identity, managed identity, CLI).
func New(subscriptionID, resourceGroup string,
	logger log.DebugLogger) (*Client, error) {
	return newClient(subscriptionID, resourceGroup, logger)
}

// ListCertificates returns the SSL certificates installed on the gateway.
func (c *Client) ListCertificates(ctx context.Context,
	gatewayName string) ([]CertificateInfo, error) {
	return c.listCertificates(ctx, gatewayName)
}

// GetCertificateExpiry returns the expiry of the named certificate. It
// fails when the certificate is absent or its expiry is unknown.
func (c *Client) GetCertificateExpiry(ctx context.Context,
	gatewayName, certName string) (time.Time, error) {
	return c.getCertificateExpiry(ctx, gatewayName, certName)
}

// UploadCertificate installs a PKCS#12 bundle on the gateway under the
// specified name, replacing any existing certificate with that name.
func (c *Client) UploadCertificate(ctx context.Context,
	gatewayName, certName string, pfxData []byte, password string) error {
	return c.uploadCertificate(ctx, gatewayName, certName, pfxData, password)
}

// UpdateListenerCertificate points the named HTTPS listener at the named
// installed certificate. It fails if either the listener or the
// certificate is not present on the gateway.
func (c *Client) UpdateListenerCertificate(ctx context.Context,
	gatewayName, listenerName, certName string) error {
	return c.updateListenerCertificate(ctx, gatewayName, listenerName,
		certName)
}

// CreateChallengeRule adds a path rule matching HTTP-01 challenge
// requests to every URL path map on the gateway, routing them to the
// specified backend pool with the specified backend settings. Maps that
// already carry a rule with this name are left alone.
func (c *Client) CreateChallengeRule(ctx context.Context,
	gatewayName, ruleName, backendPool, backendSettings string) error {
	return c.createChallengeRule(ctx, gatewayName, ruleName, backendPool,
		backendSettings)
}

// ListChallengeRules returns the names of all challenge routing rules
// present on the gateway.
func (c *Client) ListChallengeRules(ctx context.Context,
	gatewayName string) ([]string, error) {
	return c.listChallengeRules(ctx, gatewayName)
}

// DeleteRoutingRule removes the named path rule from every URL path map.
// It fails when the rule is not present in any map.
func (c *Client) DeleteRoutingRule(ctx context.Context,
	gatewayName, ruleName string) error {
	return c.deleteRoutingRule(ctx, gatewayName, ruleName)
}
