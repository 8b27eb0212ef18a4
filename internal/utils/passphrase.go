package utils

import "golang.org/x/crypto/bcrypt"

// HashPassphrase returns the bcrypt hash stored in FREE_ACCESS_HASH.
func HashPassphrase(plain string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassphrase compares plain against hash.  An empty hash never matches.
func VerifyPassphrase(hash, plain string) bool {
	if hash == "" || plain == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
