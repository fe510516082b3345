//go:build !race

package onboarding

import "golang.org/x/crypto/bcrypt"

func secretHashCost() int {
	return bcrypt.DefaultCost
}
