package usecase

import "BondYield/internal/domain/models"

// SelectIndex picks the benchmark series for a bond. Rules are evaluated in
// order and the first match wins: variable coupons use Treasury CMT whatever
// the issuer, fixed-coupon municipals use the muni AAA curve, everything else
// falls back to Treasury CMT.
func SelectIndex(b *models.Bond) models.IndexCode {
	if b.CouponType == models.CouponVariable {
		return models.IndexUSTreasuryCMT
	}
	if b.BondType == models.BondMunicipal {
		return models.IndexMuniAAA
	}
	return models.IndexUSTreasuryCMT
}
