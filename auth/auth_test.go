package auth

import (
	"context"
	"testing"

	"github.com/hcengineering/platform-sub001/types"
)

var testSecret = []byte("test-secret")

func TestTokenRoundTrip(t *testing.T) {
	in := &types.Principal{Account: "account:alice", Workspace: "ws1", Admin: true}
	token, err := NewToken(in, testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	out, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}
	if out.Account != in.Account || out.Workspace != in.Workspace || out.Admin != in.Admin {
		t.Errorf("principal mismatch: %+v vs %+v", out, in)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := NewToken(&types.Principal{Account: "account:alice"}, testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := ParseToken(token, []byte("other-secret")); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestParseToken_Garbage(t *testing.T) {
	if _, err := ParseToken("not.a.token", testSecret); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestParseToken_MissingAccount(t *testing.T) {
	token, err := NewToken(&types.Principal{Workspace: "ws1"}, testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := ParseToken(token, testSecret); err == nil {
		t.Fatal("expected error for token without account")
	}
}

func TestPrincipalContext(t *testing.T) {
	if p := PrincipalFromContext(context.Background()); p != nil {
		t.Fatalf("expected nil principal on empty context, got %+v", p)
	}

	in := &types.Principal{Account: "account:alice"}
	ctx := WithPrincipal(context.Background(), in)
	if p := PrincipalFromContext(ctx); p != in {
		t.Fatalf("expected the attached principal, got %+v", p)
	}
}
