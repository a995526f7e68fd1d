package httpresponder

import (
	"context"
	"net/http"
	"strings"

	"github.com/Cloud-Foundations/Dominator/lib/log"
	"github.com/Cloud-Foundations/agwcert/pkg/errdefs"
)

func newPublisher(baseURL string,
	logger log.DebugLogger) (*Publisher, error) {
	if !strings.HasPrefix(baseURL, "http://") &&
		!strings.HasPrefix(baseURL, "https://") {
		return nil, errdefs.Configuration(nil,
			"responder address is not a URL: %s", baseURL)
	}
	return &Publisher{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
		logger:     logger,
	}, nil
}

func (p *Publisher) post(ctx context.Context, url string,
	body string) error {
	req, err := http.NewRequestWithContext(ctx, "POST", url,
		strings.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errdefs.Deployment(nil, "%s: %s", url, resp.Status)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, token string,
	keyAuthorization string) error {
	if token == "" {
		return errdefs.Protocol(nil, "empty challenge token")
	}
	url := p.baseURL + RecordResponsePath + "?" + ChallengePathPrefix +
		token
	if err := p.post(ctx, url, keyAuthorization); err != nil {
		return errdefs.Deployment(err,
			"cannot publish challenge response to %s", p.baseURL)
	}
	p.logger.Debugf(0, "published challenge response for token: %s\n",
		token)
	return nil
}

func (p *Publisher) cleanup(ctx context.Context) error {
	url := p.baseURL + CleanupResponsesPath
	if err := p.post(ctx, url, ""); err != nil {
		return errdefs.Deployment(err, "cannot clean up responses on %s",
			p.baseURL)
	}
	p.logger.Debugf(1, "cleaned up responder: %s\n", p.baseURL)
	return nil
}
