package issuance

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/Cloud-Foundations/Dominator/lib/log"
	"github.com/Cloud-Foundations/agwcert/pkg/certcodec"
	"github.com/Cloud-Foundations/agwcert/pkg/errdefs"
	"github.com/Cloud-Foundations/agwcert/pkg/gateway"
)

const (
	defaultPollTimeout  = 5 * time.Minute
	defaultPollInterval = 5 * time.Second

	passwordBytes = 18
)

func certificateName(domain string) string {
	return strings.ReplaceAll(domain, ".", "-") + "-cert"
}

func challengeRuleName(domain string) string {
	return gateway.ChallengeRulePrefix + strings.ReplaceAll(domain, ".", "-")
}

// randomPassword makes a throwaway password for the PKCS#12 bundle. The
// password only protects the bundle in transit to the gateway API, so it
// is never persisted.
func randomPassword() (string, error) {
	buffer := make([]byte, passwordBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

func newOrchestrator(config Config, ca CAClient, gw GatewayControl,
	responder Responder, logger log.DebugLogger) (*Orchestrator, error) {
	if config.Email == "" {
		return nil, errdefs.Configuration(nil, "no account email")
	}
	if config.AccountKeyPath == "" {
		return nil, errdefs.Configuration(nil, "no account key path")
	}
	if config.GatewayName == "" {
		return nil, errdefs.Configuration(nil, "no gateway name")
	}
	if config.BackendPool == "" || config.BackendSettings == "" {
		return nil, errdefs.Configuration(nil,
			"no challenge backend pool or settings")
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = defaultPollTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	return &Orchestrator{
		config:         config,
		ca:             ca,
		gw:             gw,
		responder:      responder,
		logger:         logger,
		randomPassword: randomPassword,
	}, nil
}

func (o *Orchestrator) ensureRegistered(ctx context.Context) error {
	if o.registered {
		return nil
	}
	accountURL, err := o.ca.RegisterAccount(ctx, o.config.Email,
		o.config.AccountKeyPath)
	if err != nil {
		return err
	}
	o.logger.Debugf(0, "using account: %s\n", accountURL)
	o.registered = true
	return nil
}

// cleanupChallenge tears down the staged challenge. Failures are logged,
// not escalated: the standalone cleanup command catches orphans.
func (o *Orchestrator) cleanupChallenge(ctx context.Context,
	ruleName string) {
	if err := o.gw.DeleteRoutingRule(ctx, o.config.GatewayName,
		ruleName); err != nil {
		o.logger.Printf("warning: cannot remove rule %s from gateway %s: %s\n",
			ruleName, o.config.GatewayName, err)
	}
	if err := o.responder.Cleanup(ctx); err != nil {
		o.logger.Printf("warning: cannot clean up responder: %s\n", err)
	}
}

func (o *Orchestrator) issueDomain(ctx context.Context,
	target Target) error {
	if target.Domain == "" || target.Listener == "" {
		return errdefs.Configuration(nil,
			"issuance target needs a domain and a listener")
	}
	o.logger.Printf("issuing certificate for %s on gateway %s\n",
		target.Domain, o.config.GatewayName)
	if err := o.ensureRegistered(ctx); err != nil {
		return err
	}
	order, err := o.ca.CreateOrder(ctx, []string{target.Domain})
	if err != nil {
		return err
	}
	challenges, err := o.ca.ExtractChallenges(ctx, order)
	if err != nil {
		return err
	}
	for _, challenge := range challenges {
		if err := o.responder.Publish(ctx, challenge.Token,
			challenge.KeyAuthorization); err != nil {
			return err
		}
	}
	ruleName := challengeRuleName(target.Domain)
	if err := o.gw.CreateChallengeRule(ctx, o.config.GatewayName,
		ruleName, o.config.BackendPool,
		o.config.BackendSettings); err != nil {
		if err := o.responder.Cleanup(ctx); err != nil {
			o.logger.Printf("warning: cannot clean up responder: %s\n", err)
		}
		return err
	}
	defer o.cleanupChallenge(ctx, ruleName)
	if err := o.ca.AnswerChallenges(ctx, order, challenges); err != nil {
		return err
	}
	if err := o.ca.PollUntilValid(ctx, order, o.config.PollTimeout,
		o.config.PollInterval); err != nil {
		return err
	}
	key, err := certcodec.GenerateRSAKey()
	if err != nil {
		return err
	}
	keyPEM, err := certcodec.EncodePrivateKey(key)
	if err != nil {
		return err
	}
	csrDER, err := certcodec.BuildCSR([]string{target.Domain}, keyPEM)
	if err != nil {
		return err
	}
	if err := o.ca.FinalizeOrder(ctx, order, csrDER); err != nil {
		return err
	}
	chainPEM, err := o.ca.DownloadCertificate(ctx, order)
	if err != nil {
		return err
	}
	password, err := o.randomPassword()
	if err != nil {
		return err
	}
	pfxData, err := certcodec.ConvertToDeploymentFormat(chainPEM, keyPEM,
		password)
	if err != nil {
		return err
	}
	certName := certificateName(target.Domain)
	if err := o.gw.UploadCertificate(ctx, o.config.GatewayName, certName,
		pfxData, password); err != nil {
		return err
	}
	if err := o.gw.UpdateListenerCertificate(ctx, o.config.GatewayName,
		target.Listener, certName); err != nil {
		return err
	}
	o.logger.Printf("certificate %s deployed to listener %s\n",
		certName, target.Listener)
	return nil
}

func (o *Orchestrator) run(ctx context.Context,
	targets []Target) Summary {
	var summary Summary
	for _, target := range targets {
		if err := o.issueDomain(ctx, target); err != nil {
			o.logger.Printf("Error: %s: %s\n", target.Domain, err)
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}
	return summary
}

func (s Summary) describe() string {
	return fmt.Sprintf("%d domain(s) — %d succeeded, %d failed",
		s.Succeeded+s.Failed, s.Succeeded, s.Failed)
}
