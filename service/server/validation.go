package server

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
)

const (
	maxTitleLength       = 50
	maxDescriptionLength = 143
	maxLabelLength       = 50
	maxIconURLLength     = 2048
	maxAddressLength     = 44
)

var (
	// Base58 alphabet used by Solana addresses and signatures.
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

	// Markup that must never reach a client rendering Blink text.
	unsafeContentRegex = regexp.MustCompile(`(?i)<\s*/?\s*(script|iframe|object|embed)|javascript:|\bon[a-z]+\s*=`)
)

// blinkInput is the user-supplied content shared by both generate routes.
type blinkInput struct {
	Icon        string
	Title       string
	Description string
	Label       string
	Wallet      string
}

// validateBlinkInput checks the content of a new Blink. The icon is skipped
// when empty so token Blinks can take theirs from token metadata.
func validateBlinkInput(in blinkInput) error {
	if in.Icon != "" {
		if err := validateIconURL(in.Icon); err != nil {
			return err
		}
	}
	if err := validateText("title", in.Title, maxTitleLength); err != nil {
		return err
	}
	if err := validateText("description", in.Description, maxDescriptionLength); err != nil {
		return err
	}
	if strings.TrimSpace(in.Label) == "" {
		return errorf("label is required")
	}
	if err := validateText("label", in.Label, maxLabelLength); err != nil {
		return err
	}
	return validateAddress(in.Wallet)
}

func validateIconURL(raw string) error {
	if len(raw) > maxIconURLLength {
		return errorf("icon URL too long: maximum length is %d characters", maxIconURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return errorf("icon must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errorf("icon must be an http or https URL")
	}
	return nil
}

func validateText(field, value string, maxLength int) error {
	if utf8.RuneCountInString(value) > maxLength {
		return errorf("%s too long: maximum length is %d characters", field, maxLength)
	}
	for _, r := range value {
		if r == 0 || (unicode.IsControl(r) && r != '\n') {
			return errorf("invalid characters in %s: control characters not allowed", field)
		}
	}
	if unsafeContentRegex.MatchString(value) {
		return errorf("invalid content in %s: markup and event handlers are not allowed", field)
	}
	return nil
}

// validateAddress validates a wallet or mint address for format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return errorf("invalid address: not a valid public key")
	}

	return nil
}

// validateSignature checks that a transaction signature is base58 and 64 bytes.
func validateSignature(signature string) error {
	if signature == "" {
		return errorf("signature is required")
	}
	if !validAddressRegex.MatchString(signature) {
		return errorf("invalid signature format: must contain only valid base58 characters")
	}
	if _, err := solana.SignatureFromBase58(signature); err != nil {
		return errorf("invalid signature: must decode to 64 bytes")
	}
	return nil
}

// validatePercentage checks a commission share expressed as a fraction.
func validatePercentage(p float64) error {
	if p < 0 || p > 1 {
		return errorf("percentage must be between 0 and 1")
	}
	return nil
}

// errorf is a helper to format validation error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
