package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Cloud-Foundations/Dominator/lib/decoders"
	"github.com/Cloud-Foundations/agwcert/pkg/acmeclient"
	"github.com/Cloud-Foundations/agwcert/pkg/errdefs"
	"github.com/google/uuid"
	"gopkg.in/yaml.v2"
)

const (
	defaultAccountKey = "~/.config/agwcert/account.key"

	certStoreDirect = "agw_direct"

	maxDomainLength = 253
)

var fqdnRE = regexp.MustCompile(
	`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,63}$`)

func init() {
	decoders.RegisterDecoder(".yml", yamlDecoderGenerator)
	decoders.RegisterDecoder(".yaml", yamlDecoderGenerator)
}

func yamlDecoderGenerator(reader io.Reader) decoders.Decoder {
	return yaml.NewDecoder(reader)
}

func validDomainName(name string) bool {
	if len(name) < 1 || len(name) > maxDomainLength {
		return false
	}
	return fqdnRE.MatchString(name)
}

func expandTilde(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homedir, path[2:]), nil
}

func defaultListenerName(domain string) string {
	return strings.ReplaceAll(domain, ".", "-") + "-listener"
}

func load(filename string) (*Config, error) {
	var cfg Config
	if err := decoders.DecodeFile(filename, &cfg); err != nil {
		return nil, errdefs.Configuration(err,
			"cannot load configuration: %s", filename)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	accountKey, err := expandTilde(cfg.ACME.AccountKey)
	if err != nil {
		return nil, errdefs.Configuration(err,
			"cannot expand account key path")
	}
	cfg.ACME.AccountKey = accountKey
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ACME.DirectoryURL == "" {
		c.ACME.DirectoryURL = acmeclient.LetsEncryptProductionURL
	}
	if c.ACME.AccountKey == "" {
		c.ACME.AccountKey = defaultAccountKey
	}
	for gwIndex := range c.Gateways {
		gw := &c.Gateways[gwIndex]
		for domIndex := range gw.Domains {
			dom := &gw.Domains[domIndex]
			if dom.CertStore == "" {
				dom.CertStore = certStoreDirect
			}
			if dom.Listener == "" && validDomainName(dom.Domain) {
				dom.Listener = defaultListenerName(dom.Domain)
			}
		}
	}
}

// validate checks every field and reports all problems at once, so a
// bad file does not need several edit-run cycles to fix.
func (c *Config) validate() error {
	var problems []string
	addProblem := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	if c.ACME.Email == "" {
		addProblem("acme.email is required")
	} else if !strings.Contains(c.ACME.Email, "@") {
		addProblem("acme.email is not an email address: %s", c.ACME.Email)
	}
	if !strings.HasPrefix(c.ACME.DirectoryURL, "http://") &&
		!strings.HasPrefix(c.ACME.DirectoryURL, "https://") {
		addProblem("acme.directory_url is not a URL: %s",
			c.ACME.DirectoryURL)
	}
	if c.Azure.SubscriptionID == "" {
		addProblem("azure.subscription_id is required")
	} else if _, err := uuid.Parse(c.Azure.SubscriptionID); err != nil {
		addProblem("azure.subscription_id is not a UUID: %s",
			c.Azure.SubscriptionID)
	}
	if c.Azure.ResourceGroup == "" {
		addProblem("azure.resource_group is required")
	}
	if len(c.Gateways) < 1 {
		addProblem("no gateways configured")
	}
	seenDomains := make(map[string]string)
	for gwIndex, gw := range c.Gateways {
		where := fmt.Sprintf("gateways[%d]", gwIndex)
		if gw.Name == "" {
			addProblem("%s.name is required", where)
		} else {
			where = fmt.Sprintf("gateway %s", gw.Name)
		}
		if gw.ChallengeBackendPool == "" {
			addProblem("%s: challenge_backend_pool is required", where)
		}
		if gw.ChallengeBackendSettings == "" {
			addProblem("%s: challenge_backend_settings is required", where)
		}
		if gw.Responder == "" {
			addProblem("%s: responder is required", where)
		} else if !strings.HasPrefix(gw.Responder, "http://") &&
			!strings.HasPrefix(gw.Responder, "https://") {
			addProblem("%s: responder is not a URL: %s", where,
				gw.Responder)
		}
		if len(gw.Domains) < 1 {
			addProblem("%s: no domains configured", where)
		}
		for _, dom := range gw.Domains {
			if !validDomainName(dom.Domain) {
				addProblem("%s: invalid domain name: %q", where,
					dom.Domain)
				continue
			}
			if previous, ok := seenDomains[dom.Domain]; ok {
				addProblem("%s: domain %s already configured on %s",
					where, dom.Domain, previous)
			}
			seenDomains[dom.Domain] = gw.Name
			if dom.CertStore != certStoreDirect {
				addProblem("%s: unsupported cert_store for %s: %q",
					where, dom.Domain, dom.CertStore)
			}
		}
	}
	if len(problems) > 0 {
		return errdefs.Configuration(nil, "invalid configuration: %s",
			strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) findGateway(name string) *GatewayConfig {
	for index := range c.Gateways {
		if c.Gateways[index].Name == name {
			return &c.Gateways[index]
		}
	}
	return nil
}

func (c *Config) findDomain(domain string) (*GatewayConfig,
	*DomainConfig) {
	for gwIndex := range c.Gateways {
		gw := &c.Gateways[gwIndex]
		for domIndex := range gw.Domains {
			if gw.Domains[domIndex].Domain == domain {
				return gw, &gw.Domains[domIndex]
			}
		}
	}
	return nil, nil
}
