package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Cloud-Foundations/Dominator/lib/log"
	"github.com/Cloud-Foundations/agwcert/pkg/acmeclient"
	"github.com/Cloud-Foundations/agwcert/pkg/issuance"
	"github.com/Cloud-Foundations/agwcert/pkg/issuance/httpresponder"
	"github.com/Cloud-Foundations/agwcert/pkg/renewal"
)

func renewSubcommand(args []string, logger log.DebugLogger) error {
	if err := renew(logger); err != nil {
		return fmt.Errorf("Error renewing certificates: %s", err)
	}
	return nil
}

func renew(logger log.DebugLogger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sets, err := resolveTargets(cfg, *gatewayFilter, *domainFilter)
	if err != nil {
		return err
	}
	ctx := context.Background()
	gwClient, err := newGatewayClient(cfg, logger)
	if err != nil {
		return err
	}
	caClient := acmeclient.New(cfg.ACME.DirectoryURL, logger)
	policy := renewal.Policy{Days: int(*days), Force: *force}
	cache := renewal.NewCache()
	now := time.Now()
	var summary renewal.Summary
	for _, set := range sets {
		gatewayName := set.gateway.Name
		if !cache.Contains(gatewayName) {
			infos, err := gwClient.ListCertificates(ctx, gatewayName)
			if err != nil {
				logger.Printf("Error: cannot list certificates on %s: %s\n",
					gatewayName, err)
				summary.Failed += len(set.targets)
				continue
			}
			cache.Put(gatewayName, infos)
		}
		var orchestrator *issuance.Orchestrator
		for _, target := range set.targets {
			certName := issuance.CertificateName(target.Domain)
			expiry, present := cache.Lookup(gatewayName, certName)
			if !present {
				logger.Printf("warning: no certificate %s on gateway %s, skipping %s\n",
					certName, gatewayName, target.Domain)
				summary.Skipped++
				continue
			}
			if expiry.IsZero() {
				logger.Printf("%s: expiry unknown (externally managed), skipping\n",
					target.Domain)
				summary.Skipped++
				continue
			}
			if !policy.ShouldRenew(expiry, now) {
				logger.Debugf(0, "%s: %d day(s) remaining, skipping\n",
					target.Domain, renewal.DaysRemaining(expiry, now))
				summary.Skipped++
				continue
			}
			if *dryRun {
				fmt.Printf("would renew %s on gateway %s (%d day(s) remaining)\n",
					target.Domain, gatewayName,
					renewal.DaysRemaining(expiry, now))
				summary.Skipped++
				continue
			}
			if orchestrator == nil {
				responder, err := httpresponder.New(set.gateway.Responder,
					logger)
				if err != nil {
					return err
				}
				orchestrator, err = issuance.New(
					issuanceConfig(cfg, set.gateway), caClient, gwClient,
					responder, logger)
				if err != nil {
					return err
				}
			}
			if err := orchestrator.IssueDomain(ctx, target); err != nil {
				logger.Printf("Error: %s: %s\n", target.Domain, err)
				summary.Failed++
			} else {
				summary.Renewed++
			}
		}
	}
	fmt.Println(summary.String())
	if summary.Failed > 0 {
		return fmt.Errorf("%d domain(s) failed", summary.Failed)
	}
	return nil
}
