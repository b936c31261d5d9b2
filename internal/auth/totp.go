package auth

import (
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
)

type TOTPKey struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

func GenerateTOTP(issuer, account string) (TOTPKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: issuer, AccountName: account})
	if err != nil {
		return TOTPKey{}, fmt.Errorf("generate totp key: %w", err)
	}
	return TOTPKey{Secret: key.Secret(), URL: key.URL()}, nil
}

// ValidateTOTP accepts codes from the current step and one step either side.
func ValidateTOTP(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period: 30,
		Skew:   1,
		Digits: 6,
	})
	return err == nil && ok
}

func TOTPCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCode(secret, at.UTC())
}
