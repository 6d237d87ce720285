package timestamps

import (
	"context"
	"crypto"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quillsign/pdfsign/keys"
)

func testAuthority(t *testing.T) *Authority {
	t.Helper()
	key, err := keys.Generate(keys.RSA2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cert, err := keys.GenerateSelfSigned(key, keys.SelfSignedOptions{
		CommonName:   "Local TSA",
		Organization: "QuillSign Test",
	})
	if err != nil {
		t.Fatalf("self sign: %v", err)
	}
	return NewAuthority(cert, key)
}

func TestAuthorityIssuesVerifiableToken(t *testing.T) {
	tsa := testAuthority(t)
	message := []byte("signature bytes to be timestamped")

	token, err := tsa.Timestamp(context.Background(), message, crypto.SHA256)
	if err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	if err := VerifyToken(token, message); err != nil {
		t.Errorf("verify token: %v", err)
	}
	if err := VerifyToken(token, []byte("other message")); !errors.Is(err, ErrImprintMismatch) {
		t.Errorf("verify wrong message: err = %v, want ErrImprintMismatch", err)
	}
}

func TestAuthorityUsesClock(t *testing.T) {
	tsa := testAuthority(t)
	pinned := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tsa.Clock = clockwork.NewFakeClockAt(pinned)

	token, err := tsa.Timestamp(context.Background(), []byte("data"), crypto.SHA256)
	if err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	parsed, err := ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if !parsed.GenTime().Equal(pinned) {
		t.Errorf("genTime = %v, want %v", parsed.GenTime(), pinned)
	}
	if len(parsed.Certificates) != 1 {
		t.Errorf("embedded certificates = %d, want 1", len(parsed.Certificates))
	}
}

func TestClientRoundTrip(t *testing.T) {
	tsa := testAuthority(t)
	server := httptest.NewServer(tsa)
	defer server.Close()

	client := NewClient(server.URL)
	message := []byte("content hashed over HTTP")

	token, err := client.Timestamp(context.Background(), message, crypto.SHA256)
	if err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	if err := VerifyToken(token, message); err != nil {
		t.Errorf("verify token: %v", err)
	}
	info, err := ExtractTSTInfo(token)
	if err != nil {
		t.Fatalf("extract TSTInfo: %v", err)
	}
	if info.Nonce == nil {
		t.Error("nonce not echoed in token")
	}
	if !info.Policy.Equal(defaultTSAPolicy) {
		t.Errorf("policy = %v, want %v", info.Policy, defaultTSAPolicy)
	}
}

func TestClientWithoutNonce(t *testing.T) {
	tsa := testAuthority(t)
	server := httptest.NewServer(tsa)
	defer server.Close()

	client := NewClient(server.URL)
	client.SkipNonce = true

	token, err := client.Timestamp(context.Background(), []byte("no nonce"), crypto.SHA384)
	if err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	info, err := ExtractTSTInfo(token)
	if err != nil {
		t.Fatalf("extract TSTInfo: %v", err)
	}
	if info.Nonce != nil {
		t.Error("token carries a nonce for a nonce-free request")
	}
}

func TestClientRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no service", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.Timestamp(context.Background(), []byte("x"), crypto.SHA256); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("err = %v, want ErrRequestFailed", err)
	}
}

func TestClientHonorsContext(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(server.URL)
	if _, err := client.Timestamp(ctx, []byte("x"), crypto.SHA256); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestECDSAAuthority(t *testing.T) {
	key, err := keys.Generate(keys.ECDSAP256)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cert, err := keys.GenerateSelfSigned(key, keys.SelfSignedOptions{CommonName: "EC TSA"})
	if err != nil {
		t.Fatalf("self sign: %v", err)
	}
	tsa := NewAuthority(cert, key)

	token, err := tsa.Timestamp(context.Background(), []byte("ec signed"), crypto.SHA256)
	if err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	if err := VerifyToken(token, []byte("ec signed")); err != nil {
		t.Errorf("verify: %v", err)
	}
}

func TestExtractTSTInfoRejectsGarbage(t *testing.T) {
	for _, tt := range []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not asn1", []byte("nope")},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ExtractTSTInfo(tt.data); !errors.Is(err, ErrMalformedToken) {
				t.Errorf("err = %v, want ErrMalformedToken", err)
			}
		})
	}
}
