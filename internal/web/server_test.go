package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flotilla-coordinator/internal/dispatch"
	"flotilla-coordinator/internal/event"
	"flotilla-coordinator/internal/localization"
	"flotilla-coordinator/internal/repository/memory"
	"flotilla-coordinator/internal/types"
)

type testServer struct {
	store   *memory.Store
	bus     *event.Bus
	tracker *StateTracker
	server  *httptest.Server
}

// setupTestServer 启动一个使用内存存储的 API 服务
func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.NewStore()
	store.PutInstallation(types.Installation{ID: "inst-1", InstallationCode: "INST-1"})
	store.PutDeck(types.Deck{ID: "D1"})
	store.PutDeck(types.Deck{ID: "D2"})
	store.PutArea(types.Area{ID: "A1", DeckID: "D1"})
	store.PutArea(types.Area{ID: "A2", DeckID: "D2"})
	store.PutArea(types.Area{ID: "orphan"})
	store.PutRobot(types.Robot{ID: "R1", Name: "robot-1", IsarID: "isar-1", CurrentAreaID: "A1", IsarConnected: true, CurrentInstallationID: "inst-1"})

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(logger)
	go hub.Run(ctx)
	tracker := NewStateTracker(store.Robots(), hub)
	if err := tracker.Sync(ctx); err != nil {
		t.Fatalf("初始化状态失败: %v", err)
	}

	bus := event.NewBus(logger)
	loc := localization.NewService(store, logger)
	gate, err := dispatch.NewGate(store.Robots(), loc, "", logger)
	if err != nil {
		t.Fatalf("创建分配检查器失败: %v", err)
	}

	server := httptest.NewServer(NewServer(bus, loc, gate, hub, tracker, logger).Handler())
	t.Cleanup(func() {
		server.Close()
		cancel()
		bus.Wait()
	})
	return &testServer{store: store, bus: bus, tracker: tracker, server: server}
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
}

func TestHeartbeat_PublishesSignalWithTraceID(t *testing.T) {
	ts := setupTestServer(t)

	received := make(chan event.Event, 1)
	ts.bus.Subscribe(event.LocalizationTimerStartOrReset, func(_ context.Context, e event.Event) error {
		received <- e
		return nil
	})

	req, _ := http.NewRequest(http.MethodPost, ts.server.URL+"/api/robots/isar-1/heartbeat", nil)
	req.Header.Set("X-Trace-ID", "trace-abc")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("发送心跳失败: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("预期状态码 202, 得到 %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["trace_id"] != "trace-abc" {
		t.Errorf("预期沿用 trace id, 得到 %q", body["trace_id"])
	}

	select {
	case e := <-received:
		if e.RobotID != "isar-1" || e.TraceID != "trace-abc" {
			t.Errorf("意外的事件: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("未收到心跳信号")
	}
}

func TestDelocalize_PublishesTimeoutSignal(t *testing.T) {
	ts := setupTestServer(t)

	received := make(chan event.Event, 1)
	ts.bus.Subscribe(event.LocalizationTimeout, func(_ context.Context, e event.Event) error {
		received <- e
		return nil
	})

	resp, err := http.Post(ts.server.URL+"/api/robots/R1/delocalize", "application/json", nil)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("预期状态码 202, 得到 %d", resp.StatusCode)
	}

	select {
	case e := <-received:
		if e.RobotID != "R1" || e.TraceID == "" {
			t.Errorf("意外的事件: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("未收到去定位信号")
	}
}

func TestLocalizeAndQuery(t *testing.T) {
	ts := setupTestServer(t)

	put := func(robotID, body string) int {
		req, _ := http.NewRequest(http.MethodPut, ts.server.URL+"/api/robots/"+robotID+"/area", strings.NewReader(body))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("请求失败: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := put("R1", `{}`); code != http.StatusBadRequest {
		t.Errorf("缺少 area_id 应返回 400, 得到 %d", code)
	}
	if code := put("R1", `{"area_id":"missing"}`); code != http.StatusNotFound {
		t.Errorf("区域不存在应返回 404, 得到 %d", code)
	}
	if code := put("R1", `{"area_id":"A2"}`); code != http.StatusOK {
		t.Fatalf("定位应成功, 得到 %d", code)
	}

	if got := ts.tracker.GetStateSnapshot().Robots["R1"].CurrentAreaID; got != "A2" {
		t.Errorf("状态快照应更新为 A2, 得到 %q", got)
	}

	resp, err := http.Get(ts.server.URL + "/api/robots/R1/localized")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	var body struct {
		Localized bool `json:"localized"`
	}
	decode(t, resp, &body)
	if !body.Localized {
		t.Error("预期机器人已定位")
	}

	resp, _ = http.Get(ts.server.URL + "/api/robots/ghost/localized")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("机器人不存在应返回 404, 得到 %d", resp.StatusCode)
	}
}

func TestEligibility(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"缺少参数", "/api/robots/R1/eligibility?area=A1", http.StatusBadRequest},
		{"可以分配", "/api/robots/R1/eligibility?installation=INST-1&area=A1&mission=m1", http.StatusOK},
		{"不同甲板", "/api/robots/R1/eligibility?installation=INST-1&area=A2", http.StatusOK},
		{"安装点不存在", "/api/robots/R1/eligibility?installation=NOPE&area=A1", http.StatusNotFound},
		{"甲板无法解析", "/api/robots/R1/eligibility?installation=INST-1&area=orphan", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(ts.server.URL + tt.query)
			if err != nil {
				t.Fatalf("请求失败: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("预期状态码 %d, 得到 %d", tt.want, resp.StatusCode)
			}
		})
	}

	resp, _ := http.Get(ts.server.URL + "/api/robots/R1/eligibility?installation=INST-1&area=A2")
	var d dispatch.Decision
	decode(t, resp, &d)
	if d.Eligible || d.Reason == "" {
		t.Errorf("不同甲板时应不可分配并给出原因, 得到 %+v", d)
	}

	// 机器人未定位时返回 409
	ts.store.PutRobot(types.Robot{ID: "R2", IsarID: "isar-2", IsarConnected: true, CurrentInstallationID: "inst-1"})
	resp, _ = http.Get(ts.server.URL + "/api/robots/R2/eligibility?installation=INST-1&area=A1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("预期状态码 409, 得到 %d", resp.StatusCode)
	}
}

func TestState_ReturnsSnapshot(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.server.URL + "/api/state")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	var state FleetState
	decode(t, resp, &state)

	r, ok := state.Robots["R1"]
	if !ok {
		t.Fatal("快照中缺少 R1")
	}
	if r.State != localization.ConnectedLocalized {
		t.Errorf("预期 %s, 得到 %s", localization.ConnectedLocalized, r.State)
	}
}

func TestStateTracker_RefreshRemovesDeletedRobot(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()

	ts.store.DeleteRobot("R1")
	if err := ts.tracker.Refresh(ctx, "R1"); err != nil {
		t.Fatalf("刷新失败: %v", err)
	}
	if _, ok := ts.tracker.GetStateSnapshot().Robots["R1"]; ok {
		t.Error("已删除的机器人应从快照中移除")
	}
	if err := ts.tracker.RefreshByIsarID(ctx, "isar-404"); err != nil {
		t.Errorf("未知 ISAR ID 应被忽略, 得到 %v", err)
	}
}
