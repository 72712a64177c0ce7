package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing-0123456789"

func TestGenerateAndParseAccessToken(t *testing.T) {
	token, err := GenerateAccessToken("observatory-ui", RoleOperator, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	if claims.Subject != "observatory-ui" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "observatory-ui")
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want %q", claims.Role, RoleOperator)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Errorf("lifetime = %v, want 1h", got)
	}
}

func TestGenerateAccessToken_DefaultTTL(t *testing.T) {
	token, err := GenerateAccessToken("ui", RoleViewer, testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != defaultTTL {
		t.Errorf("lifetime = %v, want %v", got, defaultTTL)
	}
}

func TestGenerateAccessToken_Invalid(t *testing.T) {
	if _, err := GenerateAccessToken("", RoleViewer, testSecret, time.Hour); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("empty subject error = %v, want ErrTokenInvalid", err)
	}
	if _, err := GenerateAccessToken("ui", Role("admin"), testSecret, time.Hour); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("unknown role error = %v, want ErrInvalidRole", err)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := GenerateAccessToken("ui", RoleViewer, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	expired := signClaims(t, CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ui",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Role: RoleViewer,
	})
	noRole := signClaims(t, CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ui",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	noSubject := signClaims(t, CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Role: RoleViewer,
	})

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"garbage", "not-a-valid-jwt", testSecret},
		{"wrong secret", valid, "another-secret-another-secret-another"},
		{"expired", expired, testSecret},
		{"missing role", noRole, testSecret},
		{"missing subject", noSubject, testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ui"},
		Role:             RoleOperator,
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := ParseToken(signed, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken(HS512) error = %v, want ErrTokenInvalid", err)
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermStateRead, true},
		{RoleViewer, PermINDIOperate, false},
		{RoleOperator, PermStateRead, true},
		{RoleOperator, PermINDIOperate, true},
		{Role("unknown"), PermStateRead, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func signClaims(t *testing.T, claims CustomClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}
