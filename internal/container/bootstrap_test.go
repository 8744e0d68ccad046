package container

import (
	"context"
	"testing"
	"time"

	"github.com/yndnr/sessionguard/internal/config"
	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/core/service"
	"github.com/yndnr/sessionguard/internal/identity"
	"github.com/yndnr/sessionguard/internal/storage"
	"github.com/yndnr/sessionguard/internal/telemetry/logger"
	"github.com/yndnr/sessionguard/internal/telemetry/metric"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Profiles.JanitorInterval = 0
	cfg.Identity.Static = []config.StaticCredential{
		{Credential: "demo-token", Subject: "u1", Claims: map[string]any{"email": "u1@example.com"}},
	}
	return cfg
}

func TestBootstrap_ValidatesStaticCredential(t *testing.T) {
	c, err := Bootstrap(testConfig(), WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	defer c.Close()

	mgr, err := ResolveAs[service.AuthStateManager](c, IAuthStateManager)
	if err != nil {
		t.Fatalf("ResolveAs(IAuthStateManager) error = %v", err)
	}

	st := mgr.ValidateSession(context.Background(), "demo-token")
	if st.Status != domain.StatusAuthenticated {
		t.Fatalf("status = %v (%v), want authenticated", st.Status, st.Err)
	}
	if st.Profile.Fields[domain.FieldEmail] != "u1@example.com" {
		t.Errorf("profile = %+v, want email seeded from claims", st.Profile)
	}

	if _, ok := mgr.CachedProfile("u1"); !ok {
		t.Error("CachedProfile() missing after validation")
	}
}

func TestBootstrap_SharesSingletons(t *testing.T) {
	c, err := Bootstrap(testConfig(), WithLogger(logger.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Resolve(IAuthStateManager); err != nil {
		t.Fatal(err)
	}
	a, _ := c.Resolve(IIdentityAuthority)
	if _, ok := a.(*identity.MemoryAuthority); !ok {
		t.Errorf("IIdentityAuthority = %T, want *identity.MemoryAuthority without endpoint", a)
	}
	r1, _ := c.Resolve(IRetryCoordinator)
	r2, _ := c.Resolve(IRetryCoordinator)
	if r1 != r2 {
		t.Error("IRetryCoordinator resolved to different instances")
	}
}

type rejectAll struct{ calls int }

func (r *rejectAll) VerifyCredential(context.Context, domain.Credential) (*domain.Identity, error) {
	r.calls++
	return nil, domain.ErrCredentialRevoked
}

func TestBootstrap_OverrideToken(t *testing.T) {
	c, err := Bootstrap(testConfig(), WithLogger(logger.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	fake := &rejectAll{}
	c.RegisterInstance(IIdentityAuthority, fake)

	mgr := MustResolveAs[service.AuthStateManager](c, IAuthStateManager)
	st := mgr.ValidateSession(context.Background(), "demo-token")
	if st.Status != domain.StatusError || st.Reason != domain.KindRevokedCredential {
		t.Errorf("state = %v, want error(revoked_credential)", st)
	}
	if fake.calls != 1 {
		t.Errorf("fake calls = %d, want 1", fake.calls)
	}
}

func TestBootstrap_BadgerEngine(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Engine = config.EngineBadger
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.EncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

	reg := metric.NewRegistry()
	c, err := Bootstrap(cfg, WithLogger(logger.Discard()), WithMetrics(reg))
	if err != nil {
		t.Fatal(err)
	}

	store, err := ResolveAs[*storage.BadgerProfileStore](c, IProfileDocumentStore)
	if err != nil {
		t.Fatalf("ResolveAs(IProfileDocumentStore) error = %v", err)
	}

	mgr := MustResolveAs[service.AuthStateManager](c, IAuthStateManager)
	if st := mgr.ValidateSession(context.Background(), "demo-token"); st.Status != domain.StatusAuthenticated {
		t.Fatalf("status = %v (%v)", st.Status, st.Err)
	}
	if n, _ := store.Count(); n != 1 {
		t.Errorf("stored profiles = %d, want 1", n)
	}

	done := make(chan error, 1)
	go func() { done <- c.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close() hung")
	}
}

func TestBootstrap_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.Threshold = 0
	if _, err := Bootstrap(cfg); err == nil {
		t.Error("Bootstrap() error = nil for invalid config")
	}

	cfg = testConfig()
	cfg.Storage.Engine = config.EngineBadger
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.EncryptionKey = "short"
	c, err := Bootstrap(cfg, WithLogger(logger.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Resolve(IProfileDocumentStore); err == nil {
		t.Error("Resolve(IProfileDocumentStore) error = nil for bad key")
	}
}
