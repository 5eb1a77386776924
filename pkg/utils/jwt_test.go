package utils

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestTokenRoundTrip(t *testing.T) {
	SetSecret("test-secret")

	userID := primitive.NewObjectID()
	tenantID := primitive.NewObjectID()

	token, err := GenerateToken(userID, tenantID, []string{"editor"})
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != userID.Hex() {
		t.Errorf("UserID = %q, want %q", claims.UserID, userID.Hex())
	}
	if claims.TenantID != tenantID.Hex() {
		t.Errorf("TenantID = %q, want %q", claims.TenantID, tenantID.Hex())
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "editor" {
		t.Errorf("Roles = %v", claims.Roles)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	SetSecret("secret-one")
	token, err := GenerateToken(primitive.NewObjectID(), primitive.NewObjectID(), nil)
	if err != nil {
		t.Fatal(err)
	}

	SetSecret("secret-two")
	if _, err := ValidateToken(token); err == nil {
		t.Error("token signed with a different secret was accepted")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	SetSecret("test-secret")
	if _, err := ValidateToken("not-a-token"); err == nil {
		t.Error("malformed token was accepted")
	}
}
