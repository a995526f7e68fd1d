/*
Package config loads and validates the agwcert configuration file. The
file is YAML (decoded through the registered file decoders, so .yml and
.yaml both work) and describes the ACME account, the Azure scope and the
gateways with their managed domains. Validation reports every problem in
one pass rather than stopping at the first.
*/
package config

// Config is the top-level configuration.
type Config struct {
	ACME     ACMEConfig      `yaml:"acme"`
	Azure    AzureConfig     `yaml:"azure"`
	Gateways []GatewayConfig `yaml:"gateways"`
}

// ACMEConfig describes the CA account.
type ACMEConfig struct {
	// Email receives expiry and policy notices from the CA. Required.
	Email string `yaml:"email"`

	// DirectoryURL is the ACME directory endpoint. Defaults to the
	// Let's Encrypt production directory.
	DirectoryURL string `yaml:"directory_url"`

	// AccountKey is the path of the PEM account key, created on first
	// use. Defaults to ~/.config/agwcert/account.key. A leading ~ is
	// expanded.
	AccountKey string `yaml:"account_key"`
}

// AzureConfig scopes all gateway operations.
type AzureConfig struct {
	SubscriptionID string `yaml:"subscription_id"`
	ResourceGroup  string `yaml:"resource_group"`
}

// GatewayConfig describes one Application Gateway and its domains.
type GatewayConfig struct {
	Name string `yaml:"name"`

	// ChallengeBackendPool and ChallengeBackendSettings name the
	// existing backend pool and HTTP settings that route to the
	// challenge responder. Required.
	ChallengeBackendPool     string `yaml:"challenge_backend_pool"`
	ChallengeBackendSettings string `yaml:"challenge_backend_settings"`

	// Responder is the base URL of the challenge responder's control
	// endpoint, such as http://10.0.0.4:8080. Required.
	Responder string `yaml:"responder"`

	Domains []DomainConfig `yaml:"domains"`
}

// DomainConfig describes one managed domain on a gateway.
type DomainConfig struct {
	Domain string `yaml:"domain"`

	// CertStore selects where issued certificates go. Only "agw_direct"
	// (upload straight to the gateway) is supported. Defaults to
	// "agw_direct".
	CertStore string `yaml:"cert_store"`

	// Listener is the HTTPS listener to bind the certificate to.
	// Defaults to the domain with dots replaced by hyphens, suffixed
	// with "-listener".
	Listener string `yaml:"listener"`
}

// Load reads, decodes and validates the configuration file, applying
// defaults for absent optional fields.
func Load(filename string) (*Config, error) {
	return load(filename)
}

// FindGateway returns the configuration of the named gateway, or nil.
func (c *Config) FindGateway(name string) *GatewayConfig {
	return c.findGateway(name)
}

// FindDomain returns the gateway and domain configuration for a domain,
// or nils when the domain is not managed.
func (c *Config) FindDomain(domain string) (*GatewayConfig, *DomainConfig) {
	return c.findDomain(domain)
}

// ValidDomainName reports whether name is a well-formed fully qualified
// domain name.
func ValidDomainName(name string) bool {
	return validDomainName(name)
}
