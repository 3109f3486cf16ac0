package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"perpbot/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		APIKey:    "test-key",
		APISecret: "test-secret",
		Symbol:    "BTCUSDT",
		BaseURL:   srv.URL,
	})
	return c, srv
}

func TestSubmitOrder_SignsAndParses(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/order/create" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"orderId":"ord-123"}}`))
	})
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }

	h, err := c.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       model.SideLong,
		Type:       model.OrderMarket,
		Qty:        0.175,
		StopLoss:   29650,
		TakeProfit: 30700,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if h != "ord-123" {
		t.Errorf("handle = %q, want ord-123", h)
	}

	if gotHeaders.Get("X-BAPI-API-KEY") != "test-key" {
		t.Errorf("missing api key header")
	}
	if gotHeaders.Get("X-BAPI-TIMESTAMP") != "1700000000000" {
		t.Errorf("timestamp = %q", gotHeaders.Get("X-BAPI-TIMESTAMP"))
	}

	// Signature must cover timestamp + key + recvWindow + body.
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte("1700000000000" + "test-key" + "5000" + string(gotBody)))
	want := hex.EncodeToString(mac.Sum(nil))
	if got := gotHeaders.Get("X-BAPI-SIGN"); got != want {
		t.Errorf("signature = %q, want %q", got, want)
	}
}

func TestSubmitOrder_APIError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":110007,"retMsg":"insufficient available balance","result":{}}`))
	})

	_, err := c.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "BTCUSDT", Side: model.SideLong, Type: model.OrderMarket, Qty: 1,
	})
	if err == nil {
		t.Fatal("expected error on non-zero retCode")
	}
	var gwErr *model.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %T", err)
	}
}

func TestQueryOrderStatus_Mapping(t *testing.T) {
	cases := []struct {
		exchange string
		want     model.OrderStatus
	}{
		{"Filled", model.OrderFilled},
		{"New", model.OrderPending},
		{"PartiallyFilled", model.OrderPending},
		{"Cancelled", model.OrderRejected},
		{"Rejected", model.OrderRejected},
	}
	for _, tc := range cases {
		status := tc.exchange
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"orderId":"o1","orderStatus":"` + status + `","avgPrice":"30000","cumExecQty":"0.1"}]}}`))
		})
		got, err := c.QueryOrderStatus(context.Background(), "o1")
		if err != nil {
			t.Fatalf("%s: %v", tc.exchange, err)
		}
		if got != tc.want {
			t.Errorf("%s: status = %s, want %s", tc.exchange, got, tc.want)
		}
	}
}

func TestQueryPosition_FlatAndLong(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT","side":"None","size":"0","avgPrice":"0"}]}}`))
	})
	pos, err := c.QueryPosition(context.Background())
	if err != nil {
		t.Fatalf("QueryPosition: %v", err)
	}
	if !pos.IsFlat() {
		t.Errorf("expected flat, got %+v", pos)
	}

	c2, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT","side":"Buy","size":"0.002","avgPrice":"29500.5"}]}}`))
	})
	pos, err = c2.QueryPosition(context.Background())
	if err != nil {
		t.Fatalf("QueryPosition: %v", err)
	}
	if pos.Side != model.SideLong || pos.Size != 0.002 || pos.AvgEntryPrice != 29500.5 {
		t.Errorf("unexpected position: %+v", pos)
	}
}

func TestRecentBars_OldestFirstDropsOpenBar(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "3" {
			t.Errorf("limit = %s, want 3 (requested+1)", r.URL.Query().Get("limit"))
		}
		// Newest first; first row is the in-progress bar.
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"symbol":"BTCUSDT","list":[
			["1672327500000","16800","16810","16790","16805","1.5","25000"],
			["1672326600000","16700","16750","16690","16800","2.0","33000"],
			["1672325700000","16650","16710","16640","16700","1.8","30000"]
		]}}`))
	})

	bars, err := c.RecentBars(context.Background(), "15", 2)
	if err != nil {
		t.Fatalf("RecentBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("len = %d, want 2", len(bars))
	}
	if !bars[0].Start.Before(bars[1].Start) {
		t.Error("bars not oldest-first")
	}
	if bars[0].Close != 16700 || bars[1].Close != 16800 {
		t.Errorf("unexpected closes: %v, %v", bars[0].Close, bars[1].Close)
	}
}
