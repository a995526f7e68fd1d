package main

import (
	"context"
	"fmt"

	"github.com/Cloud-Foundations/Dominator/lib/log"
	"github.com/Cloud-Foundations/agwcert/pkg/acmeclient"
)

const configTemplateText = `# agwcert configuration.
acme:
  email: ops@example.com
  # directory_url defaults to the Let's Encrypt production directory.
  # Use the staging directory while testing:
  # directory_url: ` + acmeclient.LetsEncryptStagingURL + `
  # account_key: ~/.config/agwcert/account.key
azure:
  subscription_id: 00000000-0000-0000-0000-000000000000
  resource_group: my-resource-group
gateways:
  - name: my-gateway
    challenge_backend_pool: acme-responder-pool
    challenge_backend_settings: acme-responder-settings
    responder: http://10.0.0.4:8080
    domains:
      - domain: www.example.com
        # listener defaults to www-example-com-listener
`

func initSubcommand(args []string, logger log.DebugLogger) error {
	if err := initAccount(logger); err != nil {
		return fmt.Errorf("Error initialising account: %s", err)
	}
	return nil
}

func initAccount(logger log.DebugLogger) error {
	if *configTemplate {
		fmt.Print(configTemplateText)
		return nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	caClient := acmeclient.New(cfg.ACME.DirectoryURL, logger)
	accountURL, err := caClient.RegisterAccount(context.Background(),
		cfg.ACME.Email, cfg.ACME.AccountKey)
	if err != nil {
		return err
	}
	fmt.Printf("account ready: %s\n", accountURL)
	return nil
}
