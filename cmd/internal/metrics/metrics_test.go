package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"parley/cmd/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestCollectorCountsHubEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SessionOpened()
	c.SessionOpened()
	c.SessionSuperseded()
	c.SessionRemoved(realtime.RemovedInactive)
	c.OnlineUsers(3)
	c.BroadcastSent(3)
	c.BroadcastSuppressed()

	if v := findFamily(t, reg, "parley_sessions_opened_total").GetMetric()[0].GetCounter().GetValue(); v != 2 {
		t.Errorf("sessions_opened_total=%v want 2", v)
	}
	removed := findFamily(t, reg, "parley_sessions_removed_total").GetMetric()
	if len(removed) != 1 || labelValue(removed[0], "reason") != realtime.RemovedInactive {
		t.Errorf("sessions_removed_total=%v", removed)
	}
	if v := findFamily(t, reg, "parley_online_users").GetMetric()[0].GetGauge().GetValue(); v != 3 {
		t.Errorf("online_users=%v want 3", v)
	}
	if v := findFamily(t, reg, "parley_presence_broadcast_recipients_total").GetMetric()[0].GetCounter().GetValue(); v != 3 {
		t.Errorf("broadcast recipients=%v want 3", v)
	}
}

func TestCollectorDeliveryLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.Delivery("newMessage", true)
	c.Delivery("newMessage", false)
	c.Delivery("newMessage", false)

	for _, m := range findFamily(t, reg, "parley_deliveries_total").GetMetric() {
		want := 1.0
		if labelValue(m, "delivered") == "false" {
			want = 2
		}
		if got := m.GetCounter().GetValue(); got != want {
			t.Errorf("delivered=%s count=%v want %v", labelValue(m, "delivered"), got, want)
		}
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObserveHTTP(http.MethodGet, http.StatusOK, 15*time.Millisecond)
	c.SideEffectDropped("mirror.online")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`parley_http_requests_total{method="GET",status_code="200"} 1`,
		`parley_side_effects_dropped_total{job="mirror.online"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}
