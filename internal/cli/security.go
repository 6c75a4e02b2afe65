package cli

import (
	"errors"
	"fmt"

	"tezgah/backend/internal/config"
)

const (
	minAuthSecretLen = 32
	minManagerPINLen = 6
)

var weakPINs = map[string]bool{
	"121212": true, "112233": true, "123123": true, "101010": true,
	"696969": true, "131313": true, "159753": true, "147258": true,
}

// validateSecurityConfig refuses to serve with a guessable token secret or
// manager PIN. Neither value has a built-in default.
func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < minAuthSecretLen {
		return fmt.Errorf("AUTH_SECRET must be set and at least %d characters", minAuthSecretLen)
	}
	if len(cfg.ManagerPIN) < minManagerPINLen {
		return fmt.Errorf("MANAGER_PIN must be set and at least %d digits", minManagerPINLen)
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

func validatePINStrength(pin string) error {
	for _, r := range pin {
		if r < '0' || r > '9' {
			return errors.New("PIN must contain digits only")
		}
	}
	switch {
	case weakPINs[pin]:
		return errors.New("common PIN not allowed")
	case repeatsOneDigit(pin):
		return errors.New("all-same-digit PIN not allowed")
	case isSequential(pin, 1), isSequential(pin, -1):
		return errors.New("sequential PIN not allowed")
	}
	return nil
}

func repeatsOneDigit(pin string) bool {
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			return false
		}
	}
	return true
}

// isSequential reports whether each digit differs from the previous one by
// step, as in 234567 (step 1) or 987654 (step -1).
func isSequential(pin string, step int) bool {
	for i := 1; i < len(pin); i++ {
		if int(pin[i])-int(pin[i-1]) != step {
			return false
		}
	}
	return true
}
