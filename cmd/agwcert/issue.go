package main

import (
	"context"
	"fmt"

	"github.com/Cloud-Foundations/Dominator/lib/log"
	"github.com/Cloud-Foundations/agwcert/pkg/acmeclient"
	"github.com/Cloud-Foundations/agwcert/pkg/issuance"
	"github.com/Cloud-Foundations/agwcert/pkg/issuance/httpresponder"
)

func issueSubcommand(args []string, logger log.DebugLogger) error {
	if err := issue(logger); err != nil {
		return fmt.Errorf("Error issuing certificates: %s", err)
	}
	return nil
}

func issue(logger log.DebugLogger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sets, err := resolveTargets(cfg, *gatewayFilter, *domainFilter)
	if err != nil {
		return err
	}
	if *dryRun {
		for _, set := range sets {
			for _, target := range set.targets {
				fmt.Printf("would issue %s on gateway %s (listener: %s)\n",
					target.Domain, set.gateway.Name, target.Listener)
			}
		}
		return nil
	}
	ctx := context.Background()
	gwClient, err := newGatewayClient(cfg, logger)
	if err != nil {
		return err
	}
	caClient := acmeclient.New(cfg.ACME.DirectoryURL, logger)
	var total issuance.Summary
	for _, set := range sets {
		responder, err := httpresponder.New(set.gateway.Responder, logger)
		if err != nil {
			return err
		}
		orchestrator, err := issuance.New(issuanceConfig(cfg, set.gateway),
			caClient, gwClient, responder, logger)
		if err != nil {
			return err
		}
		summary := orchestrator.Run(ctx, set.targets)
		total.Succeeded += summary.Succeeded
		total.Failed += summary.Failed
	}
	fmt.Println(total)
	if total.Failed > 0 {
		return fmt.Errorf("%d domain(s) failed", total.Failed)
	}
	return nil
}
