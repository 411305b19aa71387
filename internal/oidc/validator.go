package oidc

import (
	"fmt"
	"slices"
	"strings"
)

// Validator enforces role requirements on verified token claims.
// go-oidc already validates the signature, issuer and audience.
type Validator struct {
	requiredRoles []string
	roleClaim     string
}

// NewValidator creates a validator requiring any of requiredRoles under the
// dot-separated roleClaim path.
func NewValidator(requiredRoles []string, roleClaim string) *Validator {
	if roleClaim == "" {
		roleClaim = "realm_access.roles"
	}
	return &Validator{
		requiredRoles: requiredRoles,
		roleClaim:     roleClaim,
	}
}

// ValidateRoles validates that the user has at least one of the required roles.
// It is a no-op when no roles are configured.
func (v *Validator) ValidateRoles(claims map[string]interface{}) error {
	if len(v.requiredRoles) == 0 {
		return nil
	}

	// Extract roles from configured claim path (e.g., "realm_access.roles")
	roles, err := getRolesFromClaim(claims, v.roleClaim)
	if err != nil {
		return fmt.Errorf("failed to extract roles: %w", err)
	}

	for _, requiredRole := range v.requiredRoles {
		if containsRole(roles, requiredRole) {
			return nil
		}
	}

	return fmt.Errorf("user does not have required roles: %v (user roles: %v)", v.requiredRoles, roles)
}

// getClaimString extracts a string claim, supporting dot notation for nested claims.
// For example: "email", "preferred_username", "realm_access.roles"
func getClaimString(claims map[string]interface{}, path string) (string, error) {
	value, err := getNestedClaim(claims, path)
	if err != nil {
		return "", err
	}

	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("claim '%s' is not a string", path)
	}

	return str, nil
}

// getRolesFromClaim extracts roles as a slice of strings.
// Handles both []string and []interface{} types.
func getRolesFromClaim(claims map[string]interface{}, path string) ([]string, error) {
	value, err := getNestedClaim(claims, path)
	if err != nil {
		return nil, err
	}

	// Handle both []string and []interface{} types
	switch v := value.(type) {
	case []string:
		return v, nil
	case []interface{}:
		roles := make([]string, 0, len(v))
		for _, role := range v {
			if str, ok := role.(string); ok {
				roles = append(roles, str)
			}
		}
		return roles, nil
	default:
		return nil, fmt.Errorf("claim '%s' is not a string array", path)
	}
}

// getNestedClaim retrieves a claim using dot notation.
// For example: "realm_access.roles" navigates through the claims map.
func getNestedClaim(claims map[string]interface{}, path string) (interface{}, error) {
	parts := strings.Split(path, ".")

	var current interface{} = claims
	for i, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("claim path '%s' not found at level %d (%s)", path, i, part)
		}

		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("claim '%s' not found in path '%s'", part, path)
		}
	}

	return current, nil
}

func containsRole(roles []string, role string) bool {
	return slices.Contains(roles, role)
}
