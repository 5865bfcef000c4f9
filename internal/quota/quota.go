// Package quota computes a user's delivery allowance. It is pure arithmetic
// over a ledger record; no store access happens here.
package quota

import "github.com/uzbekfilmtv/kinobot/internal/models"

// Policy holds the configured quota constants.
type Policy struct {
	// FreeAllowance is the number of deliveries every user gets on signup.
	FreeAllowance int
	// ReferralBonus is added to the allowance per credited referral.
	ReferralBonus int
}

// Allowance is the total permitted consumptions for a user: the free base,
// plus the per-referral bonus, plus operator-granted credits.
func (p Policy) Allowance(u *models.User) int {
	return p.FreeAllowance + u.ReferralCount*p.ReferralBonus + u.BonusCredits
}

// Remaining is the unconsumed part of the allowance, never negative.
func (p Policy) Remaining(u *models.User) int {
	left := p.Allowance(u) - u.Used
	if left < 0 {
		return 0
	}
	return left
}
