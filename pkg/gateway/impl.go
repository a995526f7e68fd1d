package gateway

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"
	"github.com/Cloud-Foundations/Dominator/lib/format"
	"github.com/Cloud-Foundations/Dominator/lib/log"
	"github.com/Cloud-Foundations/agwcert/pkg/certcodec"
	"github.com/Cloud-Foundations/agwcert/pkg/errdefs"
)

const (
	pushTimeout = 10 * time.Minute

	challengePathPattern = "/.well-known/acme-challenge/*"
)

// gatewayAPI is the slice of the ARM SDK the package needs. Tests
// substitute a fake holding an in-memory gateway.
type gatewayAPI interface {
	get(ctx context.Context,
		gatewayName string) (*armnetwork.ApplicationGateway, error)
	createOrUpdate(ctx context.Context, gatewayName string,
		gw armnetwork.ApplicationGateway) error
}

type armAPI struct {
	client        *armnetwork.ApplicationGatewaysClient
	resourceGroup string
}

func (a *armAPI) get(ctx context.Context,
	gatewayName string) (*armnetwork.ApplicationGateway, error) {
	resp, err := a.client.Get(ctx, a.resourceGroup, gatewayName, nil)
	if err != nil {
		return nil, err
	}
	return &resp.ApplicationGateway, nil
}

func (a *armAPI) createOrUpdate(ctx context.Context, gatewayName string,
	gw armnetwork.ApplicationGateway) error {
	poller, err := a.client.BeginCreateOrUpdate(ctx, a.resourceGroup,
		gatewayName, gw, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func newClient(subscriptionID, resourceGroup string,
	logger log.DebugLogger) (*Client, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, errdefs.Configuration(err,
			"cannot build Azure credential")
	}
	client, err := armnetwork.NewApplicationGatewaysClient(subscriptionID,
		cred, nil)
	if err != nil {
		return nil, errdefs.Configuration(err,
			"cannot build Application Gateway client")
	}
	return &Client{
		api:           &armAPI{client: client, resourceGroup: resourceGroup},
		resourceGroup: resourceGroup,
		logger:        logger,
	}, nil
}

func (c *Client) read(ctx context.Context,
	gatewayName string) (*armnetwork.ApplicationGateway, error) {
	gw, err := c.api.get(ctx, gatewayName)
	if err != nil {
		return nil, errdefs.Deployment(err, "cannot read gateway: %s",
			gatewayName)
	}
	if gw.Properties == nil {
		return nil, errdefs.Deployment(nil,
			"gateway %s has no properties", gatewayName)
	}
	return gw, nil
}

// push writes the modified gateway back and waits for the update to
// settle, bounded by pushTimeout.
func (c *Client) push(ctx context.Context, gatewayName string,
	gw *armnetwork.ApplicationGateway) error {
	pctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	startTime := time.Now()
	if err := c.api.createOrUpdate(pctx, gatewayName, *gw); err != nil {
		if errors.Is(pctx.Err(), context.DeadlineExceeded) {
			return errdefs.Timeout(err,
				"gateway update did not settle within %s",
				format.Duration(pushTimeout))
		}
		return errdefs.Deployment(err, "cannot update gateway: %s",
			gatewayName)
	}
	c.logger.Debugf(0, "gateway %s updated in %s\n", gatewayName,
		format.Duration(time.Since(startTime)))
	return nil
}

// parsePublicCertData extracts the expiry from the gateway's view of a
// certificate. The data may be base64-wrapped DER or PEM. Unparseable
// data yields the zero time (unknown), like a Key Vault reference does.
func parsePublicCertData(data string, logger log.DebugLogger) time.Time {
	if decoded, err := base64.StdEncoding.DecodeString(data); err == nil {
		if cert, err := x509.ParseCertificate(decoded); err == nil {
			return cert.NotAfter.UTC()
		}
		if notAfter, err := certcodec.Expiry(string(decoded)); err == nil {
			return notAfter
		}
	}
	if notAfter, err := certcodec.Expiry(data); err == nil {
		return notAfter
	}
	logger.Debugf(1, "cannot determine certificate expiry from gateway data\n")
	return time.Time{}
}

func (c *Client) listCertificates(ctx context.Context,
	gatewayName string) ([]CertificateInfo, error) {
	gw, err := c.read(ctx, gatewayName)
	if err != nil {
		return nil, err
	}
	var infos []CertificateInfo
	for _, cert := range gw.Properties.SSLCertificates {
		if cert == nil || cert.Name == nil {
			continue
		}
		info := CertificateInfo{Name: *cert.Name}
		if cert.Properties != nil && cert.Properties.PublicCertData != nil {
			info.Expiry = parsePublicCertData(
				*cert.Properties.PublicCertData, c.logger)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (c *Client) getCertificateExpiry(ctx context.Context,
	gatewayName, certName string) (time.Time, error) {
	infos, err := c.listCertificates(ctx, gatewayName)
	if err != nil {
		return time.Time{}, err
	}
	for _, info := range infos {
		if info.Name != certName {
			continue
		}
		if info.Expiry.IsZero() {
			return time.Time{}, errdefs.Deployment(nil,
				"certificate %s on gateway %s has unknown expiry",
				certName, gatewayName)
		}
		return info.Expiry, nil
	}
	return time.Time{}, errdefs.Deployment(nil,
		"certificate %s not found on gateway %s", certName, gatewayName)
}

func (c *Client) uploadCertificate(ctx context.Context,
	gatewayName, certName string, pfxData []byte, password string) error {
	gw, err := c.read(ctx, gatewayName)
	if err != nil {
		return err
	}
	properties := &armnetwork.ApplicationGatewaySSLCertificatePropertiesFormat{
		Data:     to.Ptr(base64.StdEncoding.EncodeToString(pfxData)),
		Password: to.Ptr(password),
	}
	replaced := false
	for _, cert := range gw.Properties.SSLCertificates {
		if cert != nil && cert.Name != nil && *cert.Name == certName {
			cert.Properties = properties
			replaced = true
			break
		}
	}
	if !replaced {
		gw.Properties.SSLCertificates = append(
			gw.Properties.SSLCertificates,
			&armnetwork.ApplicationGatewaySSLCertificate{
				Name:       to.Ptr(certName),
				Properties: properties,
			})
	}
	c.logger.Debugf(0, "uploading certificate %s to gateway %s (replace=%v)\n",
		certName, gatewayName, replaced)
	return c.push(ctx, gatewayName, gw)
}

func (c *Client) updateListenerCertificate(ctx context.Context,
	gatewayName, listenerName, certName string) error {
	gw, err := c.read(ctx, gatewayName)
	if err != nil {
		return err
	}
	var certID string
	for _, cert := range gw.Properties.SSLCertificates {
		if cert == nil || cert.Name == nil || *cert.Name != certName {
			continue
		}
		if cert.ID != nil {
			certID = *cert.ID
			break
		}
		// ARM omits sub-resource IDs on some responses: synthesize one
		// from the gateway's own ID.
		if gw.ID == nil {
			return errdefs.Deployment(nil,
				"gateway %s has no resource ID", gatewayName)
		}
		certID = *gw.ID + "/sslCertificates/" + certName
		break
	}
	if certID == "" {
		return errdefs.Deployment(nil,
			"certificate %s not found on gateway %s", certName, gatewayName)
	}
	for _, listener := range gw.Properties.HTTPListeners {
		if listener == nil || listener.Name == nil ||
			*listener.Name != listenerName {
			continue
		}
		if listener.Properties == nil {
			listener.Properties = &armnetwork.ApplicationGatewayHTTPListenerPropertiesFormat{}
		}
		listener.Properties.SSLCertificate = &armnetwork.SubResource{
			ID: to.Ptr(certID),
		}
		c.logger.Debugf(0, "binding listener %s to certificate %s\n",
			listenerName, certName)
		return c.push(ctx, gatewayName, gw)
	}
	return errdefs.Deployment(nil, "listener %s not found on gateway %s",
		listenerName, gatewayName)
}

func findSubResourceID(gatewayID, collection, name string) string {
	return gatewayID + "/" + collection + "/" + name
}

func (c *Client) createChallengeRule(ctx context.Context,
	gatewayName, ruleName, backendPool, backendSettings string) error {
	gw, err := c.read(ctx, gatewayName)
	if err != nil {
		return err
	}
	if gw.ID == nil {
		return errdefs.Deployment(nil, "gateway %s has no resource ID",
			gatewayName)
	}
	poolFound := false
	for _, pool := range gw.Properties.BackendAddressPools {
		if pool != nil && pool.Name != nil && *pool.Name == backendPool {
			poolFound = true
			break
		}
	}
	if !poolFound {
		return errdefs.Configuration(nil,
			"backend pool %s not found on gateway %s", backendPool,
			gatewayName)
	}
	settingsFound := false
	for _, settings := range gw.Properties.BackendHTTPSettingsCollection {
		if settings != nil && settings.Name != nil &&
			*settings.Name == backendSettings {
			settingsFound = true
			break
		}
	}
	if !settingsFound {
		return errdefs.Configuration(nil,
			"backend settings %s not found on gateway %s", backendSettings,
			gatewayName)
	}
	if len(gw.Properties.URLPathMaps) < 1 {
		return errdefs.Deployment(nil,
			"gateway %s has no URL path maps to attach a challenge rule to",
			gatewayName)
	}
	poolID := findSubResourceID(*gw.ID, "backendAddressPools", backendPool)
	settingsID := findSubResourceID(*gw.ID, "backendHttpSettingsCollection",
		backendSettings)
	changed := false
	for _, pathMap := range gw.Properties.URLPathMaps {
		if pathMap == nil || pathMap.Properties == nil {
			continue
		}
		exists := false
		for _, rule := range pathMap.Properties.PathRules {
			if rule != nil && rule.Name != nil && *rule.Name == ruleName {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		pathMap.Properties.PathRules = append(pathMap.Properties.PathRules,
			&armnetwork.ApplicationGatewayPathRule{
				Name: to.Ptr(ruleName),
				Properties: &armnetwork.ApplicationGatewayPathRulePropertiesFormat{
					Paths:               []*string{to.Ptr(challengePathPattern)},
					BackendAddressPool:  &armnetwork.SubResource{ID: to.Ptr(poolID)},
					BackendHTTPSettings: &armnetwork.SubResource{ID: to.Ptr(settingsID)},
				},
			})
		changed = true
	}
	if !changed {
		c.logger.Debugf(0, "challenge rule %s already present on gateway %s\n",
			ruleName, gatewayName)
		return nil
	}
	c.logger.Debugf(0, "creating challenge rule %s on gateway %s\n",
		ruleName, gatewayName)
	return c.push(ctx, gatewayName, gw)
}

func (c *Client) listChallengeRules(ctx context.Context,
	gatewayName string) ([]string, error) {
	gw, err := c.read(ctx, gatewayName)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var names []string
	for _, pathMap := range gw.Properties.URLPathMaps {
		if pathMap == nil || pathMap.Properties == nil {
			continue
		}
		for _, rule := range pathMap.Properties.PathRules {
			if rule == nil || rule.Name == nil {
				continue
			}
			name := *rule.Name
			if !strings.HasPrefix(name, ChallengeRulePrefix) {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names, nil
}

func (c *Client) deleteRoutingRule(ctx context.Context,
	gatewayName, ruleName string) error {
	gw, err := c.read(ctx, gatewayName)
	if err != nil {
		return err
	}
	removed := false
	for _, pathMap := range gw.Properties.URLPathMaps {
		if pathMap == nil || pathMap.Properties == nil {
			continue
		}
		var kept []*armnetwork.ApplicationGatewayPathRule
		for _, rule := range pathMap.Properties.PathRules {
			if rule != nil && rule.Name != nil && *rule.Name == ruleName {
				removed = true
				continue
			}
			kept = append(kept, rule)
		}
		pathMap.Properties.PathRules = kept
	}
	if !removed {
		return errdefs.Deployment(nil, "rule %s not found on gateway %s",
			ruleName, gatewayName)
	}
	c.logger.Debugf(0, "deleting rule %s from gateway %s\n",
		ruleName, gatewayName)
	return c.push(ctx, gatewayName, gw)
}
