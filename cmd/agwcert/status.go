package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Cloud-Foundations/Dominator/lib/log"
	"github.com/Cloud-Foundations/agwcert/pkg/issuance"
	"github.com/Cloud-Foundations/agwcert/pkg/renewal"
	"gopkg.in/yaml.v2"
)

type statusEntry struct {
	Gateway       string `json:"gateway" yaml:"gateway"`
	Domain        string `json:"domain" yaml:"domain"`
	Certificate   string `json:"certificate" yaml:"certificate"`
	Expiry        string `json:"expiry" yaml:"expiry"`
	DaysRemaining int    `json:"days_remaining" yaml:"days_remaining"`
	Status        string `json:"status" yaml:"status"`
}

func statusSubcommand(args []string, logger log.DebugLogger) error {
	if err := status(logger); err != nil {
		return fmt.Errorf("Error reporting status: %s", err)
	}
	return nil
}

func status(logger log.DebugLogger) error {
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
	cache := renewal.NewCache()
	now := time.Now()
	var entries []statusEntry
	for _, set := range sets {
		gatewayName := set.gateway.Name
		if !cache.Contains(gatewayName) {
			infos, err := gwClient.ListCertificates(ctx, gatewayName)
			if err != nil {
				return err
			}
			cache.Put(gatewayName, infos)
		}
		for _, target := range set.targets {
			certName := issuance.CertificateName(target.Domain)
			entry := statusEntry{
				Gateway:     gatewayName,
				Domain:      target.Domain,
				Certificate: certName,
			}
			expiry, present := cache.Lookup(gatewayName, certName)
			switch {
			case !present:
				entry.Expiry = "absent"
				entry.Status = "missing"
			case expiry.IsZero():
				entry.Expiry = "unknown"
				entry.Status = string(renewal.StatusValid)
			default:
				entry.Expiry = expiry.Format(time.RFC3339)
				entry.DaysRemaining = renewal.DaysRemaining(expiry, now)
				entry.Status = string(renewal.Classify(expiry, now,
					int(*days)))
			}
			entries = append(entries, entry)
		}
	}
	return writeStatus(os.Stdout, entries, *outputFormat)
}

func writeStatus(writer io.Writer, entries []statusEntry,
	format string) error {
	switch format {
	case "table":
		tw := tabwriter.NewWriter(writer, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw,
			"GATEWAY\tDOMAIN\tCERTIFICATE\tEXPIRY\tDAYS\tSTATUS")
		for _, entry := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", entry.Gateway,
				entry.Domain, entry.Certificate, entry.Expiry,
				entry.DaysRemaining, entry.Status)
		}
		return tw.Flush()
	case "json":
		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	case "yaml":
		return yaml.NewEncoder(writer).Encode(entries)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}
