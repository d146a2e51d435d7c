package access

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// credentialFields returns log attributes describing a QR payload without
// revealing it. The signature of a JWT credential is not checked here; the
// backend is the only authority.
func credentialFields(payload string) []any {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(payload, claims); err != nil {
		return []any{"credential", "opaque", "credential_len", len(payload)}
	}

	fields := []any{"credential", "jwt"}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		fields = append(fields, "credential_sub", sub)
	} else if id, ok := claims["id"]; ok {
		fields = append(fields, "credential_sub", fmt.Sprint(id))
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		fields = append(fields, "credential_exp", exp.Time)
	}
	return fields
}
