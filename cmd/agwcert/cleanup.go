package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Cloud-Foundations/Dominator/lib/log"
)

func cleanupSubcommand(args []string, logger log.DebugLogger) error {
	if err := cleanup(logger); err != nil {
		return fmt.Errorf("Error cleaning up challenge rules: %s", err)
	}
	return nil
}

func confirm(prompt string, reader *bufio.Reader) bool {
	fmt.Print(prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// cleanup removes leftover challenge routing rules. These accumulate
// when an issuance run dies between staging a challenge and its
// deferred teardown.
func cleanup(logger log.DebugLogger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	gwClient, err := newGatewayClient(cfg, logger)
	if err != nil {
		return err
	}
	reader := bufio.NewReader(os.Stdin)
	deleted, failed := 0, 0
	for gwIndex := range cfg.Gateways {
		gatewayName := cfg.Gateways[gwIndex].Name
		if *gatewayFilter != "" && gatewayName != *gatewayFilter {
			continue
		}
		rules, err := gwClient.ListChallengeRules(ctx, gatewayName)
		if err != nil {
			return err
		}
		if len(rules) < 1 {
			logger.Debugf(0, "no challenge rules on gateway %s\n",
				gatewayName)
			continue
		}
		for _, ruleName := range rules {
			if *dryRun {
				fmt.Printf("would delete rule %s on gateway %s\n",
					ruleName, gatewayName)
				continue
			}
			if !*deleteAll && !confirm(fmt.Sprintf(
				"Delete rule %s on gateway %s? [y/N] ", ruleName,
				gatewayName), reader) {
				continue
			}
			if err := gwClient.DeleteRoutingRule(ctx, gatewayName,
				ruleName); err != nil {
				logger.Printf("Error: cannot delete rule %s on %s: %s\n",
					ruleName, gatewayName, err)
				failed++
			} else {
				logger.Printf("deleted rule %s on gateway %s\n", ruleName,
					gatewayName)
				deleted++
			}
		}
	}
	fmt.Printf("%d rule(s) deleted, %d failed\n", deleted, failed)
	if failed > 0 {
		return fmt.Errorf("%d rule(s) could not be deleted", failed)
	}
	return nil
}
