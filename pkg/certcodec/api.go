/*
Package certcodec provides pure in-memory helpers for the certificate
pipeline: PEM to PKCS#12 conversion for gateway upload, SHA-256
fingerprinting, expiry extraction and CSR generation. There is no network
I/O and private key material is never logged or written to disk here.
*/
package certcodec

import (
	"crypto"
	"crypto/rsa"
	"time"
)

// ConvertToDeploymentFormat bundles a PEM certificate chain and its matching
// PEM private key into a password-protected PKCS#12 (PFX) container suitable
// for upload to an Application Gateway. The first certificate in the chain
// is treated as the leaf and the remainder as intermediates.
func ConvertToDeploymentFormat(certChainPEM, keyPEM string,
	password string) ([]byte, error) {
	return convertToDeploymentFormat(certChainPEM, keyPEM, password)
}

// Fingerprint returns the SHA-256 digest of the DER encoding of the first
// certificate in certPEM, as a 64-character lowercase hexadecimal string.
func Fingerprint(certPEM string) (string, error) {
	return fingerprint(certPEM)
}

// Expiry returns the NotAfter time of the first certificate in certPEM,
// always in UTC.
func Expiry(certPEM string) (time.Time, error) {
	return expiry(certPEM)
}

// BuildCSR generates a DER-encoded Certificate Signing Request signed with
// the private key in keyPEM. The first domain becomes the subject common
// name and all domains become DNS subject alternative names.
func BuildCSR(domains []string, keyPEM string) ([]byte, error) {
	return buildCSR(domains, keyPEM)
}

// BuildTemporaryCSR generates a PEM-encoded CSR signed with an ephemeral
// key, with the same name construction as BuildCSR. It exists only so that
// order identifiers can be extracted before the production key is made.
func BuildTemporaryCSR(domains []string) ([]byte, error) {
	return buildTemporaryCSR(domains)
}

// RequestedDomains returns the domains named by a PEM-encoded CSR: the
// DNS subject alternative names, or the subject common name if there are
// none.
func RequestedDomains(csrPEM []byte) ([]string, error) {
	return requestedDomains(csrPEM)
}

// GenerateRSAKey generates a new RSA-2048 private key.
func GenerateRSAKey() (*rsa.PrivateKey, error) {
	return generateRSAKey()
}

// ParsePrivateKey parses a PEM-encoded RSA or EC private key.
func ParsePrivateKey(keyPEM string) (crypto.Signer, error) {
	return parsePrivateKey(keyPEM)
}

// EncodePrivateKey encodes an RSA or EC private key to PEM.
func EncodePrivateKey(key crypto.Signer) (string, error) {
	return encodePrivateKey(key)
}
