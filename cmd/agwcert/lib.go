package main

import (
	"errors"

	"github.com/Cloud-Foundations/Dominator/lib/log"
	"github.com/Cloud-Foundations/agwcert/pkg/config"
	"github.com/Cloud-Foundations/agwcert/pkg/gateway"
	"github.com/Cloud-Foundations/agwcert/pkg/issuance"
)

// targetSet groups the issuance targets of one gateway.
type targetSet struct {
	gateway *config.GatewayConfig
	targets []issuance.Target
}

func loadConfig() (*config.Config, error) {
	return config.Load(*configFile)
}

// resolveTargets applies the -gateway and -domain filters to the
// configured domains. Filters that match nothing are an error, so a
// typo never silently processes zero domains.
func resolveTargets(cfg *config.Config, gatewayName,
	domain string) ([]targetSet, error) {
	if gatewayName != "" && cfg.FindGateway(gatewayName) == nil {
		return nil, errors.New("unknown gateway: " + gatewayName)
	}
	var sets []targetSet
	matched := false
	for gwIndex := range cfg.Gateways {
		gw := &cfg.Gateways[gwIndex]
		if gatewayName != "" && gw.Name != gatewayName {
			continue
		}
		var targets []issuance.Target
		for _, dom := range gw.Domains {
			if domain != "" && dom.Domain != domain {
				continue
			}
			targets = append(targets, issuance.Target{
				Domain:   dom.Domain,
				Listener: dom.Listener,
			})
		}
		if len(targets) < 1 {
			continue
		}
		matched = true
		sets = append(sets, targetSet{gateway: gw, targets: targets})
	}
	if !matched {
		if domain != "" {
			return nil, errors.New("domain not configured: " + domain)
		}
		return nil, errors.New("no domains configured")
	}
	return sets, nil
}

func newGatewayClient(cfg *config.Config,
	logger log.DebugLogger) (*gateway.Client, error) {
	return gateway.New(cfg.Azure.SubscriptionID, cfg.Azure.ResourceGroup,
		logger)
}

func issuanceConfig(cfg *config.Config,
	gw *config.GatewayConfig) issuance.Config {
	return issuance.Config{
		Email:           cfg.ACME.Email,
		AccountKeyPath:  cfg.ACME.AccountKey,
		GatewayName:     gw.Name,
		BackendPool:     gw.ChallengeBackendPool,
		BackendSettings: gw.ChallengeBackendSettings,
	}
}
