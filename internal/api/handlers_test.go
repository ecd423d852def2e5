package api

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

	"camrelay/internal/config"
	"camrelay/internal/models"
	"camrelay/internal/observability/metrics"
	"camrelay/internal/supervisor"
)

type fakeRelay struct {
	watched    []string
	stopped    []string
	heartbeats []string
	recordings []models.RecordingConfig
	disabled   []string
	watchErr   error
}

func (f *fakeRelay) EnsureWatching(_ context.Context, channelID, source string, _ *models.OutputShape) (string, error) {
	if f.watchErr != nil {
		return "", f.watchErr
	}
	f.watched = append(f.watched, channelID+"|"+source)
	return "http://edge/" + channelID + "/index.m3u8", nil
}

func (f *fakeRelay) Stop(_ context.Context, channelID string) error {
	f.stopped = append(f.stopped, channelID)
	return nil
}

func (f *fakeRelay) Heartbeat(channelID string) {
	f.heartbeats = append(f.heartbeats, channelID)
}

func (f *fakeRelay) EnableRecording(_ context.Context, channelID, source string, _ *models.OutputShape, cfg models.RecordingConfig, _ time.Time) (string, error) {
	f.recordings = append(f.recordings, cfg)
	return "http://edge/" + channelID + "/index.m3u8", nil
}

func (f *fakeRelay) DisableRecording(_ context.Context, channelID string) error {
	f.disabled = append(f.disabled, channelID)
	return nil
}

func (f *fakeRelay) Status() models.SystemStatus {
	return models.SystemStatus{ActiveProcessCount: 2, LiveHeartbeatCount: 1, ActiveRecordingCount: 1}
}

func (f *fakeRelay) Channels() []models.ChannelStatus {
	return []models.ChannelStatus{{ChannelID: "cam-1", SourceAddress: "rtsp://cam-1"}}
}

func (f *fakeRelay) UpdateGauges() {}

type fakeChannels struct {
	channels map[string]models.ChannelConfig
	err      error
}

func (f *fakeChannels) Channel(_ context.Context, id string) (models.ChannelConfig, error) {
	if f.err != nil {
		return models.ChannelConfig{}, f.err
	}
	if ch, ok := f.channels[id]; ok {
		return ch, nil
	}
	return models.ChannelConfig{}, config.ErrNotFound
}

func (f *fakeChannels) ScheduleEntries(context.Context, models.ScheduleKind) ([]models.ScheduleEntry, error) {
	return nil, nil
}

func (f *fakeChannels) Close(context.Context) error { return nil }

type fakeReloader struct {
	reloads int
	singles []models.ScheduleEntry
	err     error
}

func (f *fakeReloader) Reload(context.Context) error {
	f.reloads++
	return f.err
}

func (f *fakeReloader) ReloadSingle(_ context.Context, entry models.ScheduleEntry) error {
	f.singles = append(f.singles, entry)
	return f.err
}

func testRouter(relay *fakeRelay, channels *fakeChannels, token string) (http.Handler, *fakeReloader, *fakeReloader) {
	preload := &fakeReloader{}
	record := &fakeReloader{}
	router := NewRouter(Config{
		Relay:    relay,
		Channels: channels,
		Preload:  preload,
		Record:   record,
		Token:    token,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  metrics.New(),
	})
	return router, preload, record
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWatchWithCallerSource(t *testing.T) {
	relay := &fakeRelay{}
	router, _, _ := testRouter(relay, &fakeChannels{}, "")

	rec := doRequest(t, router, http.MethodPost, "/v1/channels/cam-1/watch",
		`{"sourceAddress":"rtsp://direct"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		PlaybackURL string `json:"playbackUrl"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PlaybackURL == "" {
		t.Fatal("missing playback url")
	}
	if len(relay.watched) != 1 || relay.watched[0] != "cam-1|rtsp://direct" {
		t.Fatalf("unexpected watch calls %v", relay.watched)
	}
}

func TestWatchFallsBackToRepository(t *testing.T) {
	relay := &fakeRelay{}
	channels := &fakeChannels{channels: map[string]models.ChannelConfig{
		"cam-1": {ChannelID: "cam-1", SourceAddress: "rtsp://from-repo"},
	}}
	router, _, _ := testRouter(relay, channels, "")

	rec := doRequest(t, router, http.MethodPost, "/v1/channels/cam-1/watch", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if relay.watched[0] != "cam-1|rtsp://from-repo" {
		t.Fatalf("repo source not used: %v", relay.watched)
	}
}

func TestWatchUnknownChannelWithoutSource(t *testing.T) {
	router, _, _ := testRouter(&fakeRelay{}, &fakeChannels{}, "")
	rec := doRequest(t, router, http.MethodPost, "/v1/channels/ghost/watch", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWatchRepositoryUnavailable(t *testing.T) {
	router, _, _ := testRouter(&fakeRelay{}, &fakeChannels{err: config.ErrUnavailable}, "")
	rec := doRequest(t, router, http.MethodPost, "/v1/channels/cam-1/watch", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWatchStartupTimeout(t *testing.T) {
	relay := &fakeRelay{watchErr: &supervisor.StartupTimeoutError{Dir: "/out/cam-1"}}
	router, _, _ := testRouter(relay, &fakeChannels{}, "")
	rec := doRequest(t, router, http.MethodPost, "/v1/channels/cam-1/watch",
		`{"sourceAddress":"rtsp://direct"}`)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestStopAndHeartbeat(t *testing.T) {
	relay := &fakeRelay{}
	router, _, _ := testRouter(relay, &fakeChannels{}, "")

	if rec := doRequest(t, router, http.MethodDelete, "/v1/channels/cam-1/", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("stop status = %d", rec.Code)
	}
	if rec := doRequest(t, router, http.MethodPost, "/v1/channels/cam-1/heartbeat", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("heartbeat status = %d", rec.Code)
	}
	if len(relay.stopped) != 1 || len(relay.heartbeats) != 1 {
		t.Fatalf("stop/heartbeat not forwarded: %v %v", relay.stopped, relay.heartbeats)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	relay := &fakeRelay{}
	channels := &fakeChannels{channels: map[string]models.ChannelConfig{
		"cam-1": {ChannelID: "cam-1", SourceAddress: "rtsp://cam-1"},
	}}
	router, _, _ := testRouter(relay, channels, "")

	rec := doRequest(t, router, http.MethodPost, "/v1/channels/cam-1/recording",
		`{"mode":"segmented","segmentMinutes":15,"title":"Lobby"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(relay.recordings) != 1 || relay.recordings[0].SegmentMinutes != 15 {
		t.Fatalf("recording config not forwarded: %+v", relay.recordings)
	}

	if rec := doRequest(t, router, http.MethodDelete, "/v1/channels/cam-1/recording", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("disable status = %d", rec.Code)
	}
	if len(relay.disabled) != 1 {
		t.Fatal("disable not forwarded")
	}
}

func TestStatusEndpoint(t *testing.T) {
	router, _, _ := testRouter(&fakeRelay{}, &fakeChannels{}, "")
	rec := doRequest(t, router, http.MethodGet, "/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		ActiveProcessCount int                    `json:"activeProcessCount"`
		Channels           []models.ChannelStatus `json:"channels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ActiveProcessCount != 2 || len(resp.Channels) != 1 {
		t.Fatalf("unexpected status payload: %+v", resp)
	}
}

func TestScheduleReloadHitsBothSchedulers(t *testing.T) {
	router, preload, record := testRouter(&fakeRelay{}, &fakeChannels{}, "")
	rec := doRequest(t, router, http.MethodPost, "/v1/schedule/reload", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if preload.reloads != 1 || record.reloads != 1 {
		t.Fatalf("reloads = %d/%d", preload.reloads, record.reloads)
	}
}

func TestScheduleSingleReloadDispatchesByKind(t *testing.T) {
	router, preload, record := testRouter(&fakeRelay{}, &fakeChannels{}, "")

	rec := doRequest(t, router, http.MethodPut, "/v1/schedule/cam-1",
		`{"kind":"record","startTime":"22:00","endTime":"06:00","workdaysOnly":true,"enabled":true}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(preload.singles) != 0 || len(record.singles) != 1 {
		t.Fatalf("dispatch wrong: preload %d, record %d", len(preload.singles), len(record.singles))
	}
	if record.singles[0].ChannelID != "cam-1" {
		t.Fatalf("channel id not taken from path: %+v", record.singles[0])
	}

	rec = doRequest(t, router, http.MethodPut, "/v1/schedule/cam-1", `{"kind":"hourly"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown kind status = %d", rec.Code)
	}
}

func TestBearerTokenGate(t *testing.T) {
	router, _, _ := testRouter(&fakeRelay{}, &fakeChannels{}, "sekrit")

	rec := doRequest(t, router, http.MethodGet, "/v1/status", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	out := httptest.NewRecorder()
	router.ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", out.Code)
	}

	// Health stays open for probes.
	if rec := doRequest(t, router, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}
