package authsvc

import "fmt"

// VerifyType is the purpose of a one-time token delivered by email link.
type VerifyType string

const (
	VerifyEmail     VerifyType = "email"
	VerifySignup    VerifyType = "signup"
	VerifyMagicLink VerifyType = "magiclink"
	VerifyRecovery  VerifyType = "recovery"
	VerifyInvite    VerifyType = "invite"
)

var verifyTypes = map[VerifyType]bool{
	VerifyEmail:     true,
	VerifySignup:    true,
	VerifyMagicLink: true,
	VerifyRecovery:  true,
	VerifyInvite:    true,
}

// ParseVerifyType returns the VerifyType named by s, or an error when s is
// not one of the accepted purposes.
func ParseVerifyType(s string) (VerifyType, error) {
	t := VerifyType(s)
	if !verifyTypes[t] {
		return "", fmt.Errorf("unknown verify type %q", s)
	}
	return t, nil
}
