package certcodec

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

func makeSelfSigned(t *testing.T, commonName string,
	lifetime time.Duration) (string, string) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		DNSNames:     []string{commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(lifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template,
		&key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	certPEM := string(pem.EncodeToMemory(
		&pem.Block{Type: "CERTIFICATE", Bytes: certDER}))
	keyPEM, err := encodePrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	return certPEM, keyPEM
}

func TestConvertToDeploymentFormatRoundTrip(t *testing.T) {
	certPEM, keyPEM := makeSelfSigned(t, "www.example.com", 30*24*time.Hour)
	pfxData, err := convertToDeploymentFormat(certPEM, keyPEM, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	_, leaf, _, err := pkcs12.DecodeChain(pfxData, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	wantFP, err := fingerprint(certPEM)
	if err != nil {
		t.Fatal(err)
	}
	gotPEM := string(pem.EncodeToMemory(
		&pem.Block{Type: "CERTIFICATE", Bytes: leaf.Raw}))
	gotFP, err := fingerprint(gotPEM)
	if err != nil {
		t.Fatal(err)
	}
	if gotFP != wantFP {
		t.Errorf("fingerprint changed across PKCS#12 round trip: %s != %s",
			gotFP, wantFP)
	}
}

func TestConvertToDeploymentFormatBadInputs(t *testing.T) {
	certPEM, keyPEM := makeSelfSigned(t, "www.example.com", 24*time.Hour)
	if _, err := convertToDeploymentFormat("not a cert", keyPEM,
		"pw"); err == nil {
		t.Error("expected error for garbage certificate data")
	}
	if _, err := convertToDeploymentFormat(certPEM, "not a key",
		"pw"); err == nil {
		t.Error("expected error for garbage key data")
	}
}

func TestFingerprint(t *testing.T) {
	certPEM, _ := makeSelfSigned(t, "a.example.com", 24*time.Hour)
	otherPEM, _ := makeSelfSigned(t, "b.example.com", 24*time.Hour)
	fp0, err := fingerprint(certPEM)
	if err != nil {
		t.Fatal(err)
	}
	fp1, err := fingerprint(certPEM)
	if err != nil {
		t.Fatal(err)
	}
	if fp0 != fp1 {
		t.Errorf("fingerprint not deterministic: %s != %s", fp0, fp1)
	}
	if len(fp0) != 64 {
		t.Errorf("expected 64 hex characters, got %d", len(fp0))
	}
	otherFP, err := fingerprint(otherPEM)
	if err != nil {
		t.Fatal(err)
	}
	if otherFP == fp0 {
		t.Error("distinct certificates produced the same fingerprint")
	}
}

func TestExpiry(t *testing.T) {
	certPEM, _ := makeSelfSigned(t, "www.example.com", 30*24*time.Hour)
	notAfter, err := expiry(certPEM)
	if err != nil {
		t.Fatal(err)
	}
	if notAfter.Location() != time.UTC {
		t.Errorf("expected UTC expiry, got %s", notAfter.Location())
	}
	want := time.Now().Add(30 * 24 * time.Hour)
	if diff := notAfter.Sub(want); diff < -24*time.Hour ||
		diff > 24*time.Hour {
		t.Errorf("expiry %s not within a day of %s", notAfter, want)
	}
}

func TestBuildCSR(t *testing.T) {
	key, err := generateRSAKey()
	if err != nil {
		t.Fatal(err)
	}
	keyPEM, err := encodePrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	domains := []string{"www.example.com", "api.example.com"}
	csrDER, err := buildCSR(domains, keyPEM)
	if err != nil {
		t.Fatal(err)
	}
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		t.Fatal(err)
	}
	if csr.Subject.CommonName != "www.example.com" {
		t.Errorf("expected CN=www.example.com, got %s",
			csr.Subject.CommonName)
	}
	if len(csr.DNSNames) != 2 ||
		csr.DNSNames[0] != "www.example.com" ||
		csr.DNSNames[1] != "api.example.com" {
		t.Errorf("unexpected SANs: %v", csr.DNSNames)
	}
	if err := csr.CheckSignature(); err != nil {
		t.Errorf("CSR signature check failed: %s", err)
	}
}

func TestBuildCSRNoDomains(t *testing.T) {
	key, err := generateRSAKey()
	if err != nil {
		t.Fatal(err)
	}
	keyPEM, err := encodePrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := buildCSR(nil, keyPEM); err == nil {
		t.Error("expected error for empty domain list")
	}
	if _, err := buildTemporaryCSR(nil); err == nil {
		t.Error("expected error for empty domain list")
	}
}

func TestRequestedDomains(t *testing.T) {
	csrPEM, err := buildTemporaryCSR(
		[]string{"www.example.com", "api.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	domains, err := requestedDomains(csrPEM)
	if err != nil {
		t.Fatal(err)
	}
	if len(domains) != 2 || domains[0] != "www.example.com" ||
		domains[1] != "api.example.com" {
		t.Errorf("unexpected domains: %v", domains)
	}
	if _, err := requestedDomains([]byte("garbage")); err == nil {
		t.Error("expected error for non-PEM input")
	}
}

func TestBuildTemporaryCSR(t *testing.T) {
	csrPEM, err := buildTemporaryCSR([]string{"www.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		t.Fatal("expected a CERTIFICATE REQUEST PEM block")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	if csr.Subject.CommonName != "www.example.com" {
		t.Errorf("expected CN=www.example.com, got %s",
			csr.Subject.CommonName)
	}
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	key, err := generateRSAKey()
	if err != nil {
		t.Fatal(err)
	}
	keyPEM, err := encodePrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := parsePrivateKey(keyPEM)
	if err != nil {
		t.Fatal(err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		t.Fatalf("expected *rsa.PrivateKey, got %T", parsed)
	}
	if rsaKey.N.Cmp(key.N) != 0 {
		t.Error("key modulus changed across PEM round trip")
	}
}
