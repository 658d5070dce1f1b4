package api

import (
	"fmt"
	"time"

	"BondYield/internal/domain/models"
	"BondYield/pkg/util"

	"github.com/shopspring/decimal"
)

// toBond converts a validated request into the domain bond.
func toBond(r *models.BondRequest) (*models.Bond, error) {
	if r == nil {
		return nil, nil
	}
	b := &models.Bond{
		CUSIP:      r.CUSIP,
		CouponType: models.CouponType(r.CouponType),
		BondType:   models.BondType(r.BondType),
		Frequency:  r.Frequency,
	}
	var err error
	if b.CouponRate, err = util.ParseDecimal(r.CouponRate); err != nil {
		return nil, fmt.Errorf("coupon_rate: %w", err)
	}
	if b.FaceValue, err = util.ParseDecimal(r.FaceValue); err != nil {
		return nil, fmt.Errorf("face_value: %w", err)
	}
	if b.Price, err = util.ParseDecimal(r.Price); err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	b.IssueDate, _ = util.ParseDate(r.IssueDate)
	b.MaturityDate, _ = util.ParseDate(r.MaturityDate)
	if b.Calls, err = toSchedule(r.Calls); err != nil {
		return nil, fmt.Errorf("calls: %w", err)
	}
	if b.Puts, err = toSchedule(r.Puts); err != nil {
		return nil, fmt.Errorf("puts: %w", err)
	}
	return b, nil
}

func toSchedule(entries []models.ScheduleEntry) ([]models.CallDate, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make([]models.CallDate, 0, len(entries))
	for _, e := range entries {
		d, ok := util.ParseDate(e.Date)
		if !ok {
			return nil, fmt.Errorf("bad date %q", e.Date)
		}
		p, err := decimal.NewFromString(e.Price)
		if err != nil {
			return nil, err
		}
		out = append(out, models.CallDate{Date: d, Price: p})
	}
	return out, nil
}

func ytwResponse(b *models.Bond, code models.IndexCode, date time.Time, ytw *decimal.Decimal) models.YtwResponse {
	res := models.YtwResponse{IndexCode: code, SettlementDate: util.FormatDate(date)}
	if b != nil {
		res.CUSIP = b.CUSIP
	}
	if ytw != nil {
		s := ytw.String()
		res.Ytw = &s
	}
	return res
}
