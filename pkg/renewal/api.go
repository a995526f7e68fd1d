/*
Package renewal decides which gateway certificates need reissuing. A
certificate is classified against a day threshold; anything not clearly
valid is renewal-eligible. Certificates with unknown expiry (Key Vault
references) are treated as valid and only renewed when forced, since
their lifecycle is managed elsewhere.
*/
package renewal

import (
	"time"

	"github.com/Cloud-Foundations/agwcert/pkg/gateway"
)

// Status classifies a certificate's remaining lifetime.
type Status string

const (
	StatusValid        Status = "valid"
	StatusExpiringSoon Status = "expiring_soon"
	StatusExpired      Status = "expired"
)

// DefaultThresholdDays is the renewal threshold used when none is
// configured.
const DefaultThresholdDays = 30

// DaysRemaining returns the whole days between now and expiry, rounded
// down. Negative when the certificate has already expired.
func DaysRemaining(expiry, now time.Time) int {
	return daysRemaining(expiry, now)
}

// Classify buckets a certificate by its remaining lifetime. More than
// thresholdDays left is valid, between one day and the threshold is
// expiring soon, none left is expired. A zero expiry (unknown) is valid.
func Classify(expiry, now time.Time, thresholdDays int) Status {
	return classify(expiry, now, thresholdDays)
}

// Policy decides whether a certificate should be renewed now.
type Policy struct {
	Days  int  // renewal threshold, DefaultThresholdDays if zero
	Force bool // renew regardless of remaining lifetime
}

// ShouldRenew reports whether a certificate expiring at the specified
// time should be renewed under this policy.
func (p Policy) ShouldRenew(expiry, now time.Time) bool {
	return p.shouldRenew(expiry, now)
}

// Cache holds per-gateway certificate expiries so a renewal sweep reads
// each gateway once instead of once per domain. Not safe for concurrent
// use.
type Cache struct {
	expiries map[string]map[string]time.Time
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{expiries: make(map[string]map[string]time.Time)}
}

// Put records the certificate inventory of a gateway.
func (c *Cache) Put(gatewayName string, infos []gateway.CertificateInfo) {
	c.put(gatewayName, infos)
}

// Lookup returns the cached expiry of a certificate. The second return
// value is false when the gateway was never listed or carries no
// certificate with that name.
func (c *Cache) Lookup(gatewayName, certName string) (time.Time, bool) {
	return c.lookup(gatewayName, certName)
}

// Contains reports whether the inventory of a gateway is cached.
func (c *Cache) Contains(gatewayName string) bool {
	_, ok := c.expiries[gatewayName]
	return ok
}

// Summary accumulates the outcome of a renewal sweep.
type Summary struct {
	Renewed int
	Skipped int
	Failed  int
}

// String renders the sweep totals on one line.
func (s *Summary) String() string {
	return s.describe()
}
