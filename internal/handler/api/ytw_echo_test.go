package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"BondYield/internal/domain/mocks"
	"BondYield/internal/domain/models"
	"BondYield/internal/service/ratelimit"
	"BondYield/internal/usecase"
	xlogger "BondYield/pkg/logger"
	"BondYield/pkg/metrics"
	"BondYield/pkg/queue"

	"github.com/golang/mock/gomock"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

type fixture struct {
	e        *echo.Echo
	engine   *mocks.MockYieldEngine
	provider *mocks.MockIndexProvider
	clock    *mocks.MockTimeSource
	writer   *memWriter
	queue    *memQueue
}

type memWriter struct{ stored []*models.IndexRate }

func (w *memWriter) Store(_ context.Context, r *models.IndexRate) error {
	w.stored = append(w.stored, r)
	return nil
}

func (w *memWriter) StoreBatch(_ context.Context, rs []*models.IndexRate) error {
	w.stored = append(w.stored, rs...)
	return nil
}

type memQueue struct{ msgs []*queue.Message }

func (q *memQueue) Publish(_ context.Context, msg *queue.Message) error {
	q.msgs = append(q.msgs, msg)
	return nil
}

func newFixture(t *testing.T, opts ...HandlerOption) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		e:        echo.New(),
		engine:   mocks.NewMockYieldEngine(ctrl),
		provider: mocks.NewMockIndexProvider(ctrl),
		clock:    mocks.NewMockTimeSource(ctrl),
		writer:   &memWriter{},
		queue:    &memQueue{},
	}
	rec := metrics.NewWithRegistry(prometheus.NewRegistry())
	proc := usecase.NewIndexRateProcessor(nil, f.writer, nil, rec, usecase.BackendClickHouse, nil)
	calc := usecase.NewYtwCalculator(f.engine, f.provider, f.clock)
	opts = append([]HandlerOption{WithBatchSubmitter(usecase.NewYtwBatchSubmitter(f.queue))}, opts...)
	h := NewYtwEchoHandler(xlogger.Nop(), calc, f.provider, f.clock, proc, rec, opts...)
	h.RegisterRoutes(f.e)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	if into != nil {
		if err := json.Unmarshal(env.Data, into); err != nil {
			t.Fatalf("decode data: %v (%s)", err, env.Data)
		}
	}
}

var may1 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func TestPostYtwMunicipal(t *testing.T) {
	f := newFixture(t)
	ytw := decimal.RequireFromString("0.0612")
	f.provider.EXPECT().GetIndex(gomock.Any(), models.IndexMuniAAA, may1).Return(decimal.RequireFromString("0.05"), nil)
	f.engine.EXPECT().CalculateYtw(gomock.Any(), gomock.Any(), may1, gomock.Any()).
		DoAndReturn(func(_ context.Context, b *models.Bond, _ time.Time, _ decimal.Decimal) *decimal.Decimal {
			if b.CUSIP != "123456AB7" || !b.CouponRate.Equal(decimal.RequireFromString("0.045")) || b.Frequency != 2 {
				t.Fatalf("bond not converted: %+v", b)
			}
			return &ytw
		})

	rec := f.do(http.MethodPost, "/api/ytw",
		`{"bond":{"cusip":"123456AB7","coupon_type":"Fixed","bond_type":"Municipal","coupon_rate":"0.045"},"settlement_date":"2024-05-01"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res models.YtwResponse
	decode(t, rec, &res)
	if res.Ytw == nil || *res.Ytw != "0.0612" || res.IndexCode != models.IndexMuniAAA || res.SettlementDate != "2024-05-01" {
		t.Fatalf("unexpected response %+v", res)
	}
}

func TestPostYtwDefaultsToToday(t *testing.T) {
	f := newFixture(t)
	f.clock.EXPECT().Now().Return(may1.Add(20 * time.Hour))
	f.provider.EXPECT().GetIndex(gomock.Any(), models.IndexUSTreasuryCMT, may1).Return(decimal.RequireFromString("0.04"), nil)
	f.engine.EXPECT().CalculateYtw(gomock.Any(), gomock.Any(), may1, gomock.Any()).Return(nil)

	rec := f.do(http.MethodPost, "/api/ytw", `{"bond":{"coupon_type":"Variable","bond_type":"Municipal"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res map[string]interface{}
	decode(t, rec, &res)
	if v, ok := res["ytw"]; !ok || v != nil {
		t.Fatalf("expected explicit null ytw, got %v", res)
	}
	if res["index_code"] != "USTR_CMT" {
		t.Fatalf("variable coupon must use treasury, got %v", res["index_code"])
	}
}

func TestPostYtwErrors(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(http.MethodPost, "/api/ytw", `{"settlement_date":"2024-05-01"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing bond: status %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/ytw", `{"bond":{"coupon_type":"Floating"}}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad coupon type: status %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/ytw", `{"bond":{},"settlement_date":"01/05/2024"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date: status %d", rec.Code)
	}

	f.provider.EXPECT().GetIndex(gomock.Any(), models.IndexUSTreasuryCMT, may1).Return(decimal.Zero, models.ErrIndexNotFound)
	rec := f.do(http.MethodPost, "/api/ytw", `{"bond":{"bond_type":"Treasury"},"settlement_date":"2024-05-01"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing fixing: status %d", rec.Code)
	}
}

func TestSelectIndexEndpoint(t *testing.T) {
	f := newFixture(t)
	cases := map[string]string{
		"/api/index/select?coupon_type=Fixed&bond_type=Municipal":    "MUNI_AAA",
		"/api/index/select?coupon_type=Variable&bond_type=Municipal": "USTR_CMT",
		"/api/index/select": "USTR_CMT",
	}
	for path, want := range cases {
		rec := f.do(http.MethodGet, path, "")
		var res map[string]string
		decode(t, rec, &res)
		if rec.Code != http.StatusOK || res["index_code"] != want {
			t.Fatalf("%s: status %d, got %v", path, rec.Code, res)
		}
	}
	if rec := f.do(http.MethodGet, "/api/index/select?bond_type=Sovereign", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown bond type: status %d", rec.Code)
	}
}

func TestIndexValueEndpoint(t *testing.T) {
	f := newFixture(t)
	f.provider.EXPECT().GetIndex(gomock.Any(), models.IndexMuniAAA, may1).Return(decimal.RequireFromString("0.031"), nil)

	rec := f.do(http.MethodGet, "/api/index/MUNI_AAA?date=2024-05-01", "")
	var res map[string]string
	decode(t, rec, &res)
	if rec.Code != http.StatusOK || res["rate"] != "0.031" || res["date"] != "2024-05-01" {
		t.Fatalf("status %d, got %v", rec.Code, res)
	}
	if rec := f.do(http.MethodGet, "/api/index/LIBOR", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown code: status %d", rec.Code)
	}
}

func TestIngestRateEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/index-rates", `{"code":"USTR_CMT","date":"2024-05-01","rate":"0.0425"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.writer.stored) != 1 || f.writer.stored[0].Source != "api" || f.writer.stored[0].Rate.String() != "0.0425" {
		t.Fatalf("unexpected stored fixings %+v", f.writer.stored)
	}
	if rec := f.do(http.MethodPost, "/api/index-rates", `{"code":"USTR_CMT","date":"2024-05-01","rate":"abc"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad rate: status %d", rec.Code)
	}
}

func TestYtwBatchEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/ytw/batch", `{"bonds":[{"cusip":"A"},{"cusip":"B","bond_type":"Municipal"}]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res map[string]interface{}
	decode(t, rec, &res)
	if res["job_id"] == "" || res["bonds"] != float64(2) {
		t.Fatalf("unexpected response %v", res)
	}
	if res["job_id"] != f.queue.msgs[0].ID {
		t.Fatalf("job id %v does not match message %s", res["job_id"], f.queue.msgs[0].ID)
	}
	batch, err := queue.Decode[models.YtwBatch](f.queue.msgs[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(batch.Bonds) != 2 || batch.Bonds[1].BondType != models.BondMunicipal || batch.Bonds[0].CouponType != models.CouponFixed {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if rec := f.do(http.MethodPost, "/api/ytw/batch", `{"bonds":[]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty batch: status %d", rec.Code)
	}
}

func TestRateLimitedRoutes(t *testing.T) {
	f := newFixture(t, WithRateLimit(ratelimit.New(), 0, 1))
	if rec := f.do(http.MethodGet, "/api/index/select", ""); rec.Code != http.StatusOK {
		t.Fatalf("first request: status %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/index/select", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d", rec.Code)
	}
}

type memHistory struct {
	rates    []*models.IndexRate
	from, to time.Time
	limit    int
}

func (m *memHistory) Query(_ context.Context, code models.IndexCode, from, to time.Time, limit int) ([]*models.IndexRate, error) {
	m.from, m.to, m.limit = from, to, limit
	var out []*models.IndexRate
	for _, r := range m.rates {
		if r.Code == code && !r.Date.Before(from) && !r.Date.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestIndexHistoryEndpoint(t *testing.T) {
	hist := &memHistory{rates: []*models.IndexRate{
		{Code: models.IndexUSTreasuryCMT, Date: may1, Rate: decimal.RequireFromString("0.0425")},
		{Code: models.IndexUSTreasuryCMT, Date: may1.AddDate(0, 0, -1), Rate: decimal.RequireFromString("0.0421")},
	}}
	f := newFixture(t, WithIndexHistory(hist))

	rec := f.do(http.MethodGet, "/api/index/USTR_CMT/history?from=2024-04-01&to=2024-05-01&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res []models.IndexRate
	decode(t, rec, &res)
	if len(res) != 2 || hist.limit != 5 || !hist.to.Equal(may1) {
		t.Fatalf("unexpected history %+v (limit %d, to %v)", res, hist.limit, hist.to)
	}

	f.clock.EXPECT().Now().Return(may1)
	if rec := f.do(http.MethodGet, "/api/index/MUNI_AAA/history", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("empty history: status %d", rec.Code)
	}
	if !hist.from.Equal(may1.AddDate(0, 0, -30)) || hist.limit != 100 {
		t.Fatalf("defaults not applied: from %v limit %d", hist.from, hist.limit)
	}

	if rec := f.do(http.MethodGet, "/api/index/USTR_CMT/history?from=2024-06-01&to=2024-05-01", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted range: status %d", rec.Code)
	}
	for _, q := range []string{"from=05/01/2024", "to=yesterday", "from=2024-04-01T00:00:00Z"} {
		if rec := f.do(http.MethodGet, "/api/index/USTR_CMT/history?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d", q, rec.Code)
		}
	}
}

func TestIndexHistoryDisabled(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodGet, "/api/index/USTR_CMT/history", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", rec.Code)
	}
}
