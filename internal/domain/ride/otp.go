package ride

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

const (
	otpMin  = 1000
	otpSpan = 9000
)

// NewOTP returns a four digit pickup code in [1000, 9999]
func NewOTP() (string, error) {
	return newOTPFrom(rand.Reader)
}

func newOTPFrom(r io.Reader) (string, error) {
	n, err := rand.Int(r, big.NewInt(otpSpan))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%d", otpMin+n.Int64()), nil
}
