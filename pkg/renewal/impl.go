package renewal

import (
	"fmt"
	"math"
	"time"

	"github.com/Cloud-Foundations/agwcert/pkg/gateway"
)

func daysRemaining(expiry, now time.Time) int {
	return int(math.Floor(expiry.Sub(now).Hours() / 24))
}

func classify(expiry, now time.Time, thresholdDays int) Status {
	if expiry.IsZero() {
		return StatusValid
	}
	days := daysRemaining(expiry, now)
	switch {
	case days > thresholdDays:
		return StatusValid
	case days > 0:
		return StatusExpiringSoon
	default:
		return StatusExpired
	}
}

func (p Policy) shouldRenew(expiry, now time.Time) bool {
	if p.Force {
		return true
	}
	days := p.Days
	if days == 0 {
		days = DefaultThresholdDays
	}
	return classify(expiry, now, days) != StatusValid
}

func (c *Cache) put(gatewayName string,
	infos []gateway.CertificateInfo) {
	certs := make(map[string]time.Time, len(infos))
	for _, info := range infos {
		certs[info.Name] = info.Expiry
	}
	c.expiries[gatewayName] = certs
}

func (c *Cache) lookup(gatewayName, certName string) (time.Time, bool) {
	certs, ok := c.expiries[gatewayName]
	if !ok {
		return time.Time{}, false
	}
	expiry, ok := certs[certName]
	return expiry, ok
}

func (s *Summary) describe() string {
	return fmt.Sprintf("Total: %d | Renewed: %d | Skipped: %d | Failed: %d",
		s.Renewed+s.Skipped+s.Failed, s.Renewed, s.Skipped, s.Failed)
}
