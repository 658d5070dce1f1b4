package models

// Requests for YTW HTTP endpoints. Defined in domain for consistency and reuse.

type YtwRequest struct {
	Bond           *BondRequest `json:"bond"`
	SettlementDate string       `json:"settlement_date" validate:"omitempty,datetime=2006-01-02"`
}

type BondRequest struct {
	CUSIP        string          `json:"cusip"`
	CouponType   string          `json:"coupon_type" default:"Fixed" validate:"oneof=Fixed Variable Zero Step"`
	BondType     string          `json:"bond_type" default:"Corporate" validate:"oneof=Municipal Corporate Treasury Agency"`
	CouponRate   string          `json:"coupon_rate" default:"0" validate:"decimal"`
	FaceValue    string          `json:"face_value" default:"100" validate:"decimal"`
	Price        string          `json:"price" default:"100" validate:"decimal"`
	IssueDate    string          `json:"issue_date" validate:"omitempty,datetime=2006-01-02"`
	MaturityDate string          `json:"maturity_date" validate:"omitempty,datetime=2006-01-02"`
	Frequency    int             `json:"frequency" default:"2" validate:"oneof=0 1 2 4 12"`
	Calls        []ScheduleEntry `json:"calls" validate:"dive"`
	Puts         []ScheduleEntry `json:"puts" validate:"dive"`
}

type ScheduleEntry struct {
	Date  string `json:"date" validate:"required,datetime=2006-01-02"`
	Price string `json:"price" validate:"required,decimal"`
}

type YtwResponse struct {
	CUSIP          string    `json:"cusip,omitempty"`
	IndexCode      IndexCode `json:"index_code"`
	SettlementDate string    `json:"settlement_date"`
	Ytw            *string   `json:"ytw"`
}

type IndexSelectRequest struct {
	CouponType string `query:"coupon_type" default:"Fixed" validate:"oneof=Fixed Variable Zero Step"`
	BondType   string `query:"bond_type" default:"Corporate" validate:"oneof=Municipal Corporate Treasury Agency"`
}

type IndexValueRequest struct {
	Code string `param:"code" validate:"required,oneof=USTR_CMT MUNI_AAA"`
	Date string `query:"date" validate:"omitempty,datetime=2006-01-02"`
}

type IndexHistoryRequest struct {
	Code  string `param:"code" validate:"required,oneof=USTR_CMT MUNI_AAA"`
	From  string `query:"from" validate:"omitempty,datetime=2006-01-02"`
	To    string `query:"to" validate:"omitempty,datetime=2006-01-02"`
	Limit string `query:"limit" validate:"omitempty,numeric"`
}

type IndexRateRequest struct {
	Code   string `json:"code" validate:"required,oneof=USTR_CMT MUNI_AAA"`
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Rate   string `json:"rate" validate:"required,decimal"`
	Source string `json:"source" default:"api"`
}

type YtwBatchRequest struct {
	SettlementDate string         `json:"settlement_date" validate:"omitempty,datetime=2006-01-02"`
	Bonds          []*BondRequest `json:"bonds" validate:"required,min=1,max=500,dive,required"`
}
