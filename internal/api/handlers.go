package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"camrelay/internal/config"
	"camrelay/internal/models"
	"camrelay/internal/supervisor"
)

type handler struct {
	relay    Relay
	channels config.Repository
	preload  Reloader
	record   Reloader
	logger   *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type watchRequest struct {
	SourceAddress string              `json:"sourceAddress,omitempty"`
	OutputShape   *models.OutputShape `json:"outputShape,omitempty"`
}

type watchResponse struct {
	PlaybackURL string `json:"playbackUrl"`
}

// resolveFeed merges caller-supplied parameters with the upstream channel
// configuration. Caller parameters win; the upstream source being down is
// fatal only when the caller supplied nothing to fall back on.
func (h *handler) resolveFeed(r *http.Request, channelID string, req watchRequest) (string, *models.OutputShape, int, string) {
	source := req.SourceAddress
	shape := req.OutputShape
	if source != "" {
		return source, shape, 0, ""
	}
	ch, err := h.channels.Channel(r.Context(), channelID)
	switch {
	case err == nil:
		if shape == nil {
			shape = ch.OutputShape
		}
		return ch.SourceAddress, shape, 0, ""
	case errors.Is(err, config.ErrNotFound):
		return "", nil, http.StatusNotFound, "unknown channel and no source address supplied"
	default:
		h.logger.Error("channel config lookup", "channel_id", channelID, "error", err)
		return "", nil, http.StatusBadGateway, "channel configuration source unavailable"
	}
}

func (h *handler) watch(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	var req watchRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	source, shape, errStatus, errMsg := h.resolveFeed(r, channelID, req)
	if errStatus != 0 {
		writeError(w, errStatus, errMsg)
		return
	}
	playback, err := h.relay.EnsureWatching(r.Context(), channelID, source, shape)
	if err != nil {
		if errors.Is(err, supervisor.ErrStartupTimeout) {
			writeError(w, http.StatusGatewayTimeout, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, watchResponse{PlaybackURL: playback})
}

func (h *handler) stop(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	if err := h.relay.Stop(r.Context(), channelID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	h.relay.Heartbeat(chi.URLParam(r, "channelID"))
	w.WriteHeader(http.StatusNoContent)
}

type recordingRequest struct {
	Mode           models.RecordingMode `json:"mode,omitempty"`
	SegmentMinutes int                  `json:"segmentMinutes,omitempty"`
	Title          string               `json:"title,omitempty"`
	SourceAddress  string               `json:"sourceAddress,omitempty"`
	OutputShape    *models.OutputShape  `json:"outputShape,omitempty"`
}

func (h *handler) enableRecording(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	var req recordingRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	source, shape, errStatus, errMsg := h.resolveFeed(r, channelID, watchRequest{
		SourceAddress: req.SourceAddress,
		OutputShape:   req.OutputShape,
	})
	if errStatus != 0 {
		writeError(w, errStatus, errMsg)
		return
	}
	recCfg := models.RecordingConfig{
		Mode:           req.Mode,
		SegmentMinutes: req.SegmentMinutes,
		Title:          req.Title,
	}
	playback, err := h.relay.EnableRecording(r.Context(), channelID, source, shape, recCfg, time.Time{})
	if err != nil {
		if errors.Is(err, supervisor.ErrStartupTimeout) {
			writeError(w, http.StatusGatewayTimeout, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, watchResponse{PlaybackURL: playback})
}

func (h *handler) disableRecording(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	if err := h.relay.DisableRecording(r.Context(), channelID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	models.SystemStatus
	Channels []models.ChannelStatus `json:"channels"`
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		SystemStatus: h.relay.Status(),
		Channels:     h.relay.Channels(),
	})
}

func (h *handler) reloadSchedules(w http.ResponseWriter, r *http.Request) {
	for name, reloader := range map[string]Reloader{"preload": h.preload, "record": h.record} {
		if reloader == nil {
			continue
		}
		if err := reloader.Reload(r.Context()); err != nil {
			h.logger.Error("schedule reload", "scheduler", name, "error", err)
			writeError(w, http.StatusBadGateway, name+" schedule reload failed: "+err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type scheduleEntryRequest struct {
	Kind models.ScheduleKind `json:"kind"`
	models.ScheduleEntry
}

func (h *handler) reloadScheduleEntry(w http.ResponseWriter, r *http.Request) {
	var req scheduleEntryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ChannelID = chi.URLParam(r, "channelID")

	var reloader Reloader
	switch req.Kind {
	case models.SchedulePreload:
		reloader = h.preload
	case models.ScheduleRecord:
		reloader = h.record
	default:
		writeError(w, http.StatusBadRequest, "kind must be preload or record")
		return
	}
	if reloader == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	if err := reloader.ReloadSingle(r.Context(), req.ScheduleEntry); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
