package tlsroots

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func generateTestCertPEM(t *testing.T) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "sessionguard test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestAddCertPEM(t *testing.T) {
	pool := NewEmptyPool()
	bundle := append(generateTestCertPEM(t), generateTestCertPEM(t)...)
	bundle = append(bundle, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte("x")})...)

	if err := pool.AddCertPEM(bundle); err != nil {
		t.Fatalf("AddCertPEM() error = %v", err)
	}
	if pool.Added() != 2 {
		t.Errorf("Added() = %d, want 2", pool.Added())
	}
}

func TestAddCertPEM_Errors(t *testing.T) {
	pool := NewEmptyPool()
	if err := pool.AddCertPEM([]byte("not pem")); !errors.Is(err, ErrNoCertsFound) {
		t.Errorf("AddCertPEM(garbage) error = %v, want ErrNoCertsFound", err)
	}

	invalid := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("junk")})
	if err := pool.AddCertPEM(invalid); err == nil {
		t.Error("AddCertPEM(invalid cert) error = nil")
	}
}

func TestAddCertFile_Missing(t *testing.T) {
	err := NewEmptyPool().AddCertFile(filepath.Join(t.TempDir(), "missing.pem"))
	if err == nil {
		t.Fatal("AddCertFile() error = nil for missing file")
	}
}

func TestClientConfig_TrustsPrivateCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	if err := os.WriteFile(caFile, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := ClientConfig(caFile)
	if err != nil {
		t.Fatalf("ClientConfig() error = %v", err)
	}
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET with private CA error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestClientConfig_NoCAFile(t *testing.T) {
	cfg, err := ClientConfig("")
	if err != nil {
		t.Fatalf("ClientConfig(\"\") error = %v", err)
	}
	if cfg.RootCAs == nil || cfg.MinVersion == 0 {
		t.Errorf("ClientConfig() = %+v", cfg)
	}
}
