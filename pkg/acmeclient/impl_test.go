package acmeclient

import (
	"context"
	"crypto"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Cloud-Foundations/Dominator/lib/log/testlogger"
	"github.com/Cloud-Foundations/agwcert/pkg/certcodec"
	"github.com/Cloud-Foundations/agwcert/pkg/errdefs"
	"golang.org/x/crypto/acme"
)

type fakeClock struct {
	current time.Time
	sleeps  []time.Duration
}

func (f *fakeClock) sleep(duration time.Duration) {
	f.sleeps = append(f.sleeps, duration)
	f.current = f.current.Add(duration)
}

func (f *fakeClock) now() time.Time { return f.current }

type fakeAPI struct {
	key           crypto.Signer
	registerCalls int
	acceptCalls   int
	authzPolls    int

	registerFunc   func(email string) (string, error)
	getAccountFunc func() (string, error)
	authorizeFunc func(domains []string) (*acme.Order, error)
	getAuthzFunc  func(url string) (*acme.Authorization, error)
	acceptFunc    func(id challengeID) error
	finalizeFunc  func(ctx context.Context, finalizeURL string,
		csrDER []byte) ([][]byte, string, error)
}

func (f *fakeAPI) setKey(key crypto.Signer) { f.key = key }

func (f *fakeAPI) register(ctx context.Context,
	email string) (string, error) {
	f.registerCalls++
	if f.registerFunc == nil {
		return "https://ca.test/acct/1", nil
	}
	return f.registerFunc(email)
}

func (f *fakeAPI) getAccount(ctx context.Context) (string, error) {
	if f.getAccountFunc == nil {
		return "https://ca.test/acct/1", nil
	}
	return f.getAccountFunc()
}

func (f *fakeAPI) authorizeOrder(ctx context.Context,
	domains []string) (*acme.Order, error) {
	if f.authorizeFunc == nil {
		return &acme.Order{
			URI:         "https://ca.test/order/1",
			AuthzURLs:   []string{"https://ca.test/authz/1"},
			FinalizeURL: "https://ca.test/finalize/1",
		}, nil
	}
	return f.authorizeFunc(domains)
}

func (f *fakeAPI) getAuthorization(ctx context.Context,
	url string) (*acme.Authorization, error) {
	f.authzPolls++
	if f.getAuthzFunc == nil {
		return pendingAuthz("www.example.com"), nil
	}
	return f.getAuthzFunc(url)
}

func (f *fakeAPI) http01Response(token string) (string, error) {
	return token + ".keyauth", nil
}

func (f *fakeAPI) http01Path(token string) string {
	return "/.well-known/acme-challenge/" + token
}

func (f *fakeAPI) accept(ctx context.Context, id challengeID) error {
	f.acceptCalls++
	if f.acceptFunc == nil {
		return nil
	}
	return f.acceptFunc(id)
}

func (f *fakeAPI) finalize(ctx context.Context, finalizeURL string,
	csrDER []byte) ([][]byte, string, error) {
	if f.finalizeFunc == nil {
		return [][]byte{{0x30, 0x03, 0x02, 0x01, 0x01}},
			"https://ca.test/cert/1", nil
	}
	return f.finalizeFunc(ctx, finalizeURL, csrDER)
}

func pendingAuthz(domain string) *acme.Authorization {
	return &acme.Authorization{
		Status:     acme.StatusPending,
		Identifier: acme.AuthzID{Type: "dns", Value: domain},
		Challenges: []*acme.Challenge{
			{Type: "http-01", Token: "tok0",
				URI: "https://ca.test/chal/0"},
		},
	}
}

func validAuthz(domain string) *acme.Authorization {
	authz := pendingAuthz(domain)
	authz.Status = acme.StatusValid
	return authz
}

func newTestClient(t *testing.T,
	api *fakeAPI) (*Client, *fakeClock) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	return &Client{
		api:            api,
		logger:         testlogger.New(t),
		sleep:          clock.sleep,
		now:            clock.now,
		retryBaseDelay: 10 * time.Second,
	}, clock
}

func registerTestClient(t *testing.T,
	api *fakeAPI) (*Client, *fakeClock) {
	client, clock := newTestClient(t, api)
	keyPath := filepath.Join(t.TempDir(), "account.key")
	if _, err := client.RegisterAccount(context.Background(),
		"ops@example.com", keyPath); err != nil {
		t.Fatal(err)
	}
	return client, clock
}

func TestRegisterGeneratesKey(t *testing.T) {
	api := &fakeAPI{}
	client, _ := newTestClient(t, api)
	keyPath := filepath.Join(t.TempDir(), "sub", "account.key")
	url, err := client.RegisterAccount(context.Background(),
		"ops@example.com", keyPath)
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://ca.test/acct/1" {
		t.Errorf("unexpected account URL: %s", url)
	}
	fi, err := os.Stat(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0600 {
		t.Errorf("expected key mode 0600, got %o", fi.Mode().Perm())
	}
	if api.key == nil {
		t.Error("account key was not passed to the ACME client")
	}
}

func TestRegisterReusesExistingKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "account.key")
	key, err := certcodec.GenerateRSAKey()
	if err != nil {
		t.Fatal(err)
	}
	keyPEM, err := certcodec.EncodePrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, []byte(keyPEM), 0600); err != nil {
		t.Fatal(err)
	}
	api := &fakeAPI{}
	client, _ := newTestClient(t, api)
	if _, err := client.RegisterAccount(context.Background(),
		"ops@example.com", keyPath); err != nil {
		t.Fatal(err)
	}
	loaded, err := certcodec.EncodePrivateKey(api.key)
	if err != nil {
		t.Fatal(err)
	}
	if loaded != keyPEM {
		t.Error("existing account key was not reused")
	}
}

func TestRegisterConflictIsSuccess(t *testing.T) {
	api := &fakeAPI{
		registerFunc: func(string) (string, error) {
			return "", acme.ErrAccountAlreadyExists
		},
		getAccountFunc: func() (string, error) {
			return "https://ca.test/acct/42", nil
		},
	}
	client, clock := newTestClient(t, api)
	keyPath := filepath.Join(t.TempDir(), "account.key")
	url, err := client.RegisterAccount(context.Background(),
		"ops@example.com", keyPath)
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://ca.test/acct/42" {
		t.Errorf("unexpected account URL: %s", url)
	}
	if api.registerCalls != 1 {
		t.Errorf("conflict must not be retried, got %d register calls",
			api.registerCalls)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("conflict must not sleep, got %v", clock.sleeps)
	}
}

func TestRetryBackoffDelays(t *testing.T) {
	failures := 2
	api := &fakeAPI{
		authorizeFunc: func([]string) (*acme.Order, error) {
			if failures > 0 {
				failures--
				return nil, errors.New("connection reset")
			}
			return &acme.Order{
				URI:         "https://ca.test/order/1",
				AuthzURLs:   []string{"https://ca.test/authz/1"},
				FinalizeURL: "https://ca.test/finalize/1",
			}, nil
		},
	}
	client, clock := registerTestClient(t, api)
	order, err := client.CreateOrder(context.Background(),
		[]string{"www.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if order.State() != StateOrderCreated {
		t.Errorf("expected order-created, got %s", order.State())
	}
	want := []time.Duration{10 * time.Second, 20 * time.Second}
	if len(clock.sleeps) != len(want) {
		t.Fatalf("expected sleeps %v, got %v", want, clock.sleeps)
	}
	for i, d := range want {
		if clock.sleeps[i] != d {
			t.Errorf("sleep %d: expected %s, got %s", i, d,
				clock.sleeps[i])
		}
	}
}

func TestRetryExhaustion(t *testing.T) {
	calls := 0
	api := &fakeAPI{
		authorizeFunc: func([]string) (*acme.Order, error) {
			calls++
			return nil, errors.New("service unavailable")
		},
	}
	client, clock := registerTestClient(t, api)
	_, err := client.CreateOrder(context.Background(),
		[]string{"www.example.com"})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !errdefs.IsKind(err, errdefs.KindTransient) {
		t.Errorf("expected transient error, got: %s", err)
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("error should name the attempt count: %s", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if len(clock.sleeps) != 2 {
		t.Errorf("expected 2 sleeps, got %v", clock.sleeps)
	}
}

func TestCreateOrderIdentifiers(t *testing.T) {
	var gotDomains []string
	api := &fakeAPI{
		authorizeFunc: func(domains []string) (*acme.Order, error) {
			gotDomains = domains
			return &acme.Order{
				URI:         "https://ca.test/order/1",
				AuthzURLs:   []string{"https://ca.test/authz/1"},
				FinalizeURL: "https://ca.test/finalize/1",
			}, nil
		},
	}
	client, _ := registerTestClient(t, api)
	order, err := client.CreateOrder(context.Background(),
		[]string{"www.example.com", "api.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	// Identifiers are round-tripped through a temporary CSR.
	want := []string{"www.example.com", "api.example.com"}
	if !reflect.DeepEqual(gotDomains, want) {
		t.Errorf("expected identifiers %v, got %v", want, gotDomains)
	}
	if !reflect.DeepEqual(order.Domains(), want) {
		t.Errorf("unexpected order domains: %v", order.Domains())
	}
}

func TestOrderBeforeRegistration(t *testing.T) {
	client, _ := newTestClient(t, &fakeAPI{})
	_, err := client.CreateOrder(context.Background(),
		[]string{"www.example.com"})
	if !errdefs.IsKind(err, errdefs.KindProtocol) {
		t.Errorf("expected protocol error, got: %v", err)
	}
}

func TestExtractChallengesNoHTTP01(t *testing.T) {
	api := &fakeAPI{
		getAuthzFunc: func(string) (*acme.Authorization, error) {
			return &acme.Authorization{
				Status:     acme.StatusPending,
				Identifier: acme.AuthzID{Type: "dns", Value: "www.example.com"},
				Challenges: []*acme.Challenge{
					{Type: "dns-01", Token: "tok0"},
				},
			}, nil
		},
	}
	client, _ := registerTestClient(t, api)
	order, err := client.CreateOrder(context.Background(),
		[]string{"www.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.ExtractChallenges(context.Background(), order)
	if !errdefs.IsKind(err, errdefs.KindProtocol) {
		t.Errorf("expected protocol error, got: %v", err)
	}
}

func TestStateEnforcement(t *testing.T) {
	client, _ := registerTestClient(t, &fakeAPI{})
	ctx := context.Background()
	order := &Order{state: StateUnregistered}
	if _, err := client.ExtractChallenges(ctx, order); !errdefs.IsKind(err,
		errdefs.KindProtocol) {
		t.Errorf("extract in wrong state: %v", err)
	}
	if err := client.AnswerChallenges(ctx, order, nil); !errdefs.IsKind(err,
		errdefs.KindProtocol) {
		t.Errorf("answer in wrong state: %v", err)
	}
	if err := client.PollUntilValid(ctx, order, time.Minute,
		time.Second); !errdefs.IsKind(err, errdefs.KindProtocol) {
		t.Errorf("poll in wrong state: %v", err)
	}
	if err := client.FinalizeOrder(ctx, order, nil); !errdefs.IsKind(err,
		errdefs.KindProtocol) {
		t.Errorf("finalize in wrong state: %v", err)
	}
	if _, err := client.DownloadCertificate(ctx,
		order); !errdefs.IsKind(err, errdefs.KindProtocol) {
		t.Errorf("download in wrong state: %v", err)
	}
}

func TestPollTimeout(t *testing.T) {
	client, clock := registerTestClient(t, &fakeAPI{})
	order := &Order{
		state:     StateChallengeAnswered,
		authzURLs: []string{"https://ca.test/authz/1"},
	}
	err := client.PollUntilValid(context.Background(), order,
		time.Second, 7*time.Second)
	if !errdefs.IsKind(err, errdefs.KindTimeout) {
		t.Fatalf("expected timeout error, got: %v", err)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 7*time.Second {
		t.Errorf("expected a single 7s sleep before timing out, got %v",
			clock.sleeps)
	}
}

func TestPollInvalidAuthorization(t *testing.T) {
	api := &fakeAPI{
		getAuthzFunc: func(string) (*acme.Authorization, error) {
			authz := pendingAuthz("www.example.com")
			authz.Status = acme.StatusInvalid
			return authz, nil
		},
	}
	client, clock := registerTestClient(t, api)
	order := &Order{
		state:     StateChallengeAnswered,
		authzURLs: []string{"https://ca.test/authz/1"},
	}
	err := client.PollUntilValid(context.Background(), order,
		time.Minute, time.Second)
	if !errdefs.IsKind(err, errdefs.KindProtocol) {
		t.Fatalf("expected protocol error, got: %v", err)
	}
	if order.State() != StateInvalid {
		t.Errorf("expected invalid state, got %s", order.State())
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("invalid authorization must fail fast, slept %v",
			clock.sleeps)
	}
}

func TestPollBecomesValid(t *testing.T) {
	polls := 0
	api := &fakeAPI{
		getAuthzFunc: func(string) (*acme.Authorization, error) {
			polls++
			if polls < 3 {
				return pendingAuthz("www.example.com"), nil
			}
			return validAuthz("www.example.com"), nil
		},
	}
	client, clock := registerTestClient(t, api)
	order := &Order{
		state:     StateChallengeAnswered,
		authzURLs: []string{"https://ca.test/authz/1"},
	}
	err := client.PollUntilValid(context.Background(), order,
		time.Minute, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if order.State() != StateValid {
		t.Errorf("expected valid state, got %s", order.State())
	}
	if len(clock.sleeps) != 2 {
		t.Errorf("expected 2 sleeps, got %v", clock.sleeps)
	}
}

func TestFinalizeTimeoutIsTerminal(t *testing.T) {
	api := &fakeAPI{
		finalizeFunc: func(ctx context.Context, _ string,
			_ []byte) ([][]byte, string, error) {
			return nil, "", context.DeadlineExceeded
		},
	}
	client, _ := registerTestClient(t, api)
	order := &Order{state: StateValid,
		finalizeURL: "https://ca.test/finalize/1"}
	err := client.FinalizeOrder(context.Background(), order, []byte{0x30})
	if err == nil {
		t.Fatal("expected finalization error")
	}
	if errdefs.IsKind(err, errdefs.KindTransient) {
		t.Error("finalization must never be classified as retryable")
	}
}

func TestFullIssuanceFlow(t *testing.T) {
	api := &fakeAPI{
		getAuthzFunc: func(string) (*acme.Authorization, error) {
			return validAuthz("www.example.com"), nil
		},
	}
	client, clock := registerTestClient(t, api)
	ctx := context.Background()
	order, err := client.CreateOrder(ctx, []string{"www.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	challenges, err := client.ExtractChallenges(ctx, order)
	if err != nil {
		t.Fatal(err)
	}
	if len(challenges) != 1 {
		t.Fatalf("expected 1 challenge, got %d", len(challenges))
	}
	if challenges[0].KeyAuthorization != "tok0.keyauth" {
		t.Errorf("unexpected key authorization: %s",
			challenges[0].KeyAuthorization)
	}
	if err := client.AnswerChallenges(ctx, order, challenges); err != nil {
		t.Fatal(err)
	}
	if api.acceptCalls != 1 {
		t.Errorf("expected 1 accept call, got %d", api.acceptCalls)
	}
	if err := client.PollUntilValid(ctx, order, time.Minute,
		time.Second); err != nil {
		t.Fatal(err)
	}
	if err := client.FinalizeOrder(ctx, order, []byte{0x30}); err != nil {
		t.Fatal(err)
	}
	chainPEM, err := client.DownloadCertificate(ctx, order)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(chainPEM, "-----BEGIN CERTIFICATE-----") {
		t.Errorf("chain is not PEM: %q", chainPEM)
	}
	if order.State() != StateDownloaded {
		t.Errorf("expected downloaded state, got %s", order.State())
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("happy path should not sleep, got %v", clock.sleeps)
	}
}
