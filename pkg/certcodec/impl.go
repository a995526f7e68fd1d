package certcodec

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"time"

	"github.com/Cloud-Foundations/agwcert/pkg/errdefs"
	"software.sslmate.com/src/go-pkcs12"
)

const rsaKeySize = 2048

func generateRSAKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, rsaKeySize)
}

func parseCertificates(certPEM string) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := []byte(certPEM)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if len(certs) < 1 {
		return nil, errors.New("no certificates found in PEM data")
	}
	return certs, nil
}

func parsePrivateKey(keyPEM string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, errors.New("no PEM block found in key data")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if signer, ok := key.(crypto.Signer); ok {
			return signer, nil
		}
		return nil, errors.New("unsupported PKCS#8 key type")
	}
	return nil, errors.New("unsupported private key type")
}

func encodePrivateKey(key crypto.Signer) (string, error) {
	var block *pem.Block
	switch key := key.(type) {
	case *rsa.PrivateKey:
		block = &pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}
	case *ecdsa.PrivateKey:
		keyDER, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			return "", err
		}
		block = &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}
	default:
		return "", errors.New("unsupported private key type")
	}
	return string(pem.EncodeToMemory(block)), nil
}

func convertToDeploymentFormat(certChainPEM, keyPEM string,
	password string) ([]byte, error) {
	certs, err := parseCertificates(certChainPEM)
	if err != nil {
		return nil, errdefs.Codec(err, "cannot parse certificate chain")
	}
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, errdefs.Codec(err, "cannot parse private key")
	}
	pfxData, err := pkcs12.Modern.Encode(key, certs[0], certs[1:], password)
	if err != nil {
		return nil, errdefs.Codec(err, "cannot serialise PKCS#12 data")
	}
	return pfxData, nil
}

func fingerprint(certPEM string) (string, error) {
	certs, err := parseCertificates(certPEM)
	if err != nil {
		return "", errdefs.Codec(err, "cannot parse certificate")
	}
	digest := sha256.Sum256(certs[0].Raw)
	return hex.EncodeToString(digest[:]), nil
}

func expiry(certPEM string) (time.Time, error) {
	certs, err := parseCertificates(certPEM)
	if err != nil {
		return time.Time{}, errdefs.Codec(err, "cannot parse certificate")
	}
	return certs[0].NotAfter.UTC(), nil
}

func buildRequest(domains []string,
	key crypto.Signer) ([]byte, error) {
	template := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domains[0]},
		DNSNames: domains,
	}
	return x509.CreateCertificateRequest(rand.Reader, template, key)
}

func buildCSR(domains []string, keyPEM string) ([]byte, error) {
	if len(domains) < 1 {
		return nil, errdefs.Codec(nil, "no domains specified for CSR")
	}
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, errdefs.Codec(err, "cannot parse private key")
	}
	csrDER, err := buildRequest(domains, key)
	if err != nil {
		return nil, errdefs.Codec(err, "cannot create CSR")
	}
	return csrDER, nil
}

func requestedDomains(csrPEM []byte) ([]string, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, errdefs.Codec(nil, "no CSR found in PEM data")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, errdefs.Codec(err, "cannot parse CSR")
	}
	if len(csr.DNSNames) > 0 {
		return csr.DNSNames, nil
	}
	if csr.Subject.CommonName != "" {
		return []string{csr.Subject.CommonName}, nil
	}
	return nil, errdefs.Codec(nil, "CSR names no domains")
}

func buildTemporaryCSR(domains []string) ([]byte, error) {
	if len(domains) < 1 {
		return nil, errdefs.Codec(nil, "no domains specified for CSR")
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errdefs.Codec(err, "cannot generate ephemeral key")
	}
	csrDER, err := buildRequest(domains, key)
	if err != nil {
		return nil, errdefs.Codec(err, "cannot create CSR")
	}
	return pem.EncodeToMemory(
		&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER}), nil
}
