package acmeclient

import (
	"context"
	"crypto"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Cloud-Foundations/Dominator/lib/format"
	"github.com/Cloud-Foundations/Dominator/lib/log"
	"github.com/Cloud-Foundations/agwcert/pkg/certcodec"
	"github.com/Cloud-Foundations/agwcert/pkg/errdefs"
	"golang.org/x/crypto/acme"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 10 * time.Second

	finalizeTimeout = 90 * time.Second

	challengeHTTP01 = "http-01"

	pemCertPrefix = "-----BEGIN CERTIFICATE-----"
)

type challengeID string

// acmeAPI is the thin slice of *acme.Client the state machine needs.
// Tests substitute a fake.
type acmeAPI interface {
	setKey(key crypto.Signer)
	register(ctx context.Context, email string) (string, error)
	getAccount(ctx context.Context) (string, error)
	authorizeOrder(ctx context.Context, domains []string) (*acme.Order, error)
	getAuthorization(ctx context.Context, url string) (*acme.Authorization,
		error)
	http01Response(token string) (string, error)
	http01Path(token string) string
	accept(ctx context.Context, id challengeID) error
	finalize(ctx context.Context, finalizeURL string,
		csrDER []byte) ([][]byte, string, error)
}

type realAPI struct {
	ac *acme.Client
}

func (r *realAPI) setKey(key crypto.Signer) {
	r.ac.Key = key
}

func (r *realAPI) register(ctx context.Context, email string) (string, error) {
	account := &acme.Account{Contact: []string{"mailto:" + email}}
	account, err := r.ac.Register(ctx, account, acme.AcceptTOS)
	if err != nil {
		return "", err
	}
	return account.URI, nil
}

func (r *realAPI) getAccount(ctx context.Context) (string, error) {
	account, err := r.ac.GetReg(ctx, "")
	if err != nil {
		return "", err
	}
	return account.URI, nil
}

func (r *realAPI) authorizeOrder(ctx context.Context,
	domains []string) (*acme.Order, error) {
	return r.ac.AuthorizeOrder(ctx, acme.DomainIDs(domains...))
}

func (r *realAPI) getAuthorization(ctx context.Context,
	url string) (*acme.Authorization, error) {
	return r.ac.GetAuthorization(ctx, url)
}

func (r *realAPI) http01Response(token string) (string, error) {
	return r.ac.HTTP01ChallengeResponse(token)
}

func (r *realAPI) http01Path(token string) string {
	return r.ac.HTTP01ChallengePath(token)
}

func (r *realAPI) accept(ctx context.Context, id challengeID) error {
	_, err := r.ac.Accept(ctx, &acme.Challenge{URI: string(id)})
	return err
}

func (r *realAPI) finalize(ctx context.Context, finalizeURL string,
	csrDER []byte) ([][]byte, string, error) {
	return r.ac.CreateOrderCert(ctx, finalizeURL, csrDER, true)
}

var stateNames = map[State]string{
	StateUnregistered:        "unregistered",
	StateRegistered:          "registered",
	StateOrderCreated:        "order-created",
	StateChallengesExtracted: "challenges-extracted",
	StateChallengeAnswered:   "challenge-answered",
	StatePolling:             "polling",
	StateValid:               "valid",
	StateInvalid:             "invalid",
	StateFinalized:           "finalized",
	StateDownloaded:          "downloaded",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func newClient(directoryURL string, logger log.DebugLogger) *Client {
	return &Client{
		api: &realAPI{ac: &acme.Client{
			DirectoryURL: directoryURL,
			UserAgent:    "agwcert",
		}},
		logger:         logger,
		sleep:          time.Sleep,
		now:            time.Now,
		retryBaseDelay: retryBaseDelay,
	}
}

// withRetry runs fn up to retryAttempts times, sleeping base, 2*base, ...
// between attempts. The last cause is wrapped in a transient error.
func (c *Client) withRetry(what string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt < retryAttempts {
			delay := c.retryBaseDelay << uint(attempt-1)
			c.logger.Debugf(1, "%s failed (attempt %d/%d), retrying in %s: %s\n",
				what, attempt, retryAttempts, format.Duration(delay), err)
			c.sleep(delay)
		}
	}
	return errdefs.Transient(err, "%s failed after %d attempts",
		what, retryAttempts)
}

func loadOrGenerateAccountKey(keyPath string,
	logger log.DebugLogger) (crypto.Signer, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err == nil {
		key, err := certcodec.ParsePrivateKey(string(keyPEM))
		if err != nil {
			return nil, errdefs.Configuration(err,
				"cannot parse account key: %s", keyPath)
		}
		logger.Debugf(1, "loaded account key: %s\n", keyPath)
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, errdefs.Configuration(err,
			"cannot read account key: %s", keyPath)
	}
	key, err := certcodec.GenerateRSAKey()
	if err != nil {
		return nil, err
	}
	encoded, err := certcodec.EncodePrivateKey(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, errdefs.Configuration(err,
			"cannot create account key directory")
	}
	if err := os.WriteFile(keyPath, []byte(encoded), 0600); err != nil {
		return nil, errdefs.Configuration(err,
			"cannot write account key: %s", keyPath)
	}
	logger.Printf("generated new account key: %s\n", keyPath)
	return key, nil
}

func (c *Client) registerAccount(ctx context.Context, email string,
	keyPath string) (string, error) {
	key, err := loadOrGenerateAccountKey(keyPath, c.logger)
	if err != nil {
		return "", err
	}
	c.accountKey = key
	c.api.setKey(key)
	var accountURL string
	err = c.withRetry("account registration", func() error {
		url, err := c.api.register(ctx, email)
		if errors.Is(err, acme.ErrAccountAlreadyExists) {
			c.logger.Debugf(0, "account already registered for %s\n", email)
			url, err = c.api.getAccount(ctx)
		}
		if err != nil {
			return err
		}
		accountURL = url
		return nil
	})
	if err != nil {
		return "", err
	}
	c.accountURL = accountURL
	c.logger.Debugf(0, "account registered: %s\n", accountURL)
	return accountURL, nil
}

func (c *Client) createOrder(ctx context.Context,
	domains []string) (*Order, error) {
	if c.accountURL == "" {
		return nil, errdefs.Protocol(nil,
			"cannot create order before account registration")
	}
	if len(domains) < 1 {
		return nil, errdefs.Configuration(nil, "no domains for order")
	}
	// Identifiers come from a throwaway CSR, so the order names exactly
	// what finalisation will present.
	csrPEM, err := certcodec.BuildTemporaryCSR(domains)
	if err != nil {
		return nil, err
	}
	identifiers, err := certcodec.RequestedDomains(csrPEM)
	if err != nil {
		return nil, err
	}
	var acmeOrder *acme.Order
	err = c.withRetry("order creation", func() error {
		var err error
		acmeOrder, err = c.api.authorizeOrder(ctx, identifiers)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debugf(0, "order created for %s: %s\n",
		strings.Join(identifiers, ","), acmeOrder.URI)
	return &Order{
		state:       StateOrderCreated,
		domains:     identifiers,
		uri:         acmeOrder.URI,
		authzURLs:   acmeOrder.AuthzURLs,
		finalizeURL: acmeOrder.FinalizeURL,
	}, nil
}

func (c *Client) extractChallenges(ctx context.Context,
	order *Order) ([]Challenge, error) {
	if order.state != StateOrderCreated {
		return nil, errdefs.Protocol(nil,
			"cannot extract challenges in state %s", order.state)
	}
	var challenges []Challenge
	for _, authzURL := range order.authzURLs {
		var authz *acme.Authorization
		err := c.withRetry("authorization fetch", func() error {
			var err error
			authz, err = c.api.getAuthorization(ctx, authzURL)
			return err
		})
		if err != nil {
			return nil, err
		}
		var chal *acme.Challenge
		for _, candidate := range authz.Challenges {
			if candidate.Type == challengeHTTP01 {
				chal = candidate
				break
			}
		}
		if chal == nil {
			return nil, errdefs.Protocol(nil,
				"no %s challenge offered for %s",
				challengeHTTP01, authz.Identifier.Value)
		}
		keyAuth, err := c.api.http01Response(chal.Token)
		if err != nil {
			return nil, errdefs.Protocol(err,
				"cannot compute key authorization for %s",
				authz.Identifier.Value)
		}
		challenges = append(challenges, Challenge{
			Domain:           authz.Identifier.Value,
			Token:            chal.Token,
			KeyAuthorization: keyAuth,
			Type:             challengeHTTP01,
			id:               challengeID(chal.URI),
		})
	}
	order.state = StateChallengesExtracted
	c.logger.Debugf(0, "extracted %d challenge(s)\n", len(challenges))
	return challenges, nil
}

func (c *Client) answerChallenges(ctx context.Context, order *Order,
	challenges []Challenge) error {
	if order.state != StateChallengesExtracted {
		return errdefs.Protocol(nil,
			"cannot answer challenges in state %s", order.state)
	}
	for _, challenge := range challenges {
		challenge := challenge
		err := c.withRetry("challenge acceptance", func() error {
			return c.api.accept(ctx, challenge.id)
		})
		if err != nil {
			return err
		}
		c.logger.Debugf(1, "answered challenge for %s\n", challenge.Domain)
	}
	order.state = StateChallengeAnswered
	return nil
}

func (c *Client) pollUntilValid(ctx context.Context, order *Order,
	timeout, interval time.Duration) error {
	if order.state != StateChallengeAnswered {
		return errdefs.Protocol(nil,
			"cannot poll for validation in state %s", order.state)
	}
	order.state = StatePolling
	startTime := c.now()
	for {
		if err := ctx.Err(); err != nil {
			return errdefs.Transient(err, "validation polling aborted")
		}
		allValid := true
		for _, authzURL := range order.authzURLs {
			authz, err := c.api.getAuthorization(ctx, authzURL)
			if err != nil {
				return errdefs.Transient(err,
					"cannot poll authorization status")
			}
			switch authz.Status {
			case acme.StatusValid:
			case acme.StatusInvalid:
				order.state = StateInvalid
				return errdefs.Protocol(nil,
					"authorization for %s is invalid",
					authz.Identifier.Value)
			default:
				allValid = false
			}
		}
		if allValid {
			order.state = StateValid
			c.logger.Debugf(0, "all authorizations valid after %s\n",
				format.Duration(c.now().Sub(startTime)))
			return nil
		}
		c.sleep(interval)
		if elapsed := c.now().Sub(startTime); elapsed >= timeout {
			return errdefs.Timeout(nil,
				"validation did not complete within %s",
				format.Duration(elapsed))
		}
	}
}

func (c *Client) finalizeOrder(ctx context.Context, order *Order,
	csrDER []byte) error {
	if order.state != StateValid {
		return errdefs.Protocol(nil,
			"cannot finalize order in state %s", order.state)
	}
	// Finalisation is deliberately not retried: a timed-out request may
	// still complete server-side.
	fctx, cancel := context.WithTimeout(ctx, finalizeTimeout)
	defer cancel()
	chainDER, certURL, err := c.api.finalize(fctx, order.finalizeURL, csrDER)
	if err != nil {
		if errors.Is(fctx.Err(), context.DeadlineExceeded) {
			return errdefs.Timeout(err,
				"finalization did not complete within %s",
				format.Duration(finalizeTimeout))
		}
		return errdefs.Protocol(err, "finalization failed")
	}
	var builder strings.Builder
	for _, certDER := range chainDER {
		builder.Write(pem.EncodeToMemory(
			&pem.Block{Type: "CERTIFICATE", Bytes: certDER}))
	}
	order.certURL = certURL
	order.chainPEM = builder.String()
	order.state = StateFinalized
	c.logger.Debugf(0, "order finalized: %s\n", certURL)
	return nil
}

func (c *Client) downloadCertificate(ctx context.Context,
	order *Order) (string, error) {
	if order.state != StateFinalized {
		return "", errdefs.Protocol(nil,
			"cannot download certificate in state %s", order.state)
	}
	if !strings.HasPrefix(order.chainPEM, pemCertPrefix) {
		return "", errdefs.Codec(nil,
			"certificate data is not PEM encoded")
	}
	order.state = StateDownloaded
	return order.chainPEM, nil
}
