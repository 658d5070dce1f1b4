package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CouponType classifies a bond's interest-payment structure.
type CouponType string

const (
	CouponFixed    CouponType = "Fixed"
	CouponVariable CouponType = "Variable"
	CouponZero     CouponType = "Zero"
	CouponStep     CouponType = "Step"
)

// BondType classifies the issuer / instrument category.
type BondType string

const (
	BondMunicipal BondType = "Municipal"
	BondCorporate BondType = "Corporate"
	BondTreasury  BondType = "Treasury"
	BondAgency    BondType = "Agency"
)

// Bond is the instrument under evaluation. Only CouponType and BondType are read by
// index selection; the remaining fields are passed through to the yield engine.
type Bond struct {
	CUSIP        string          `json:"cusip"`
	CouponType   CouponType      `json:"coupon_type"`
	BondType     BondType        `json:"bond_type"`
	CouponRate   decimal.Decimal `json:"coupon_rate"`
	FaceValue    decimal.Decimal `json:"face_value"`
	Price        decimal.Decimal `json:"price"`
	IssueDate    time.Time       `json:"issue_date"`
	MaturityDate time.Time       `json:"maturity_date"`
	Frequency    int             `json:"frequency"` // coupons per year
	Calls        []CallDate      `json:"calls,omitempty"`
	Puts         []CallDate      `json:"puts,omitempty"`
}

// CallDate is one entry of a call or put schedule.
type CallDate struct {
	Date  time.Time       `json:"date"`
	Price decimal.Decimal `json:"price"`
}
