package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	sensors "hydrosense-cloud/internal/sensors/domain"
	"hydrosense-cloud/internal/storage"
)

const (
	timeLayout = time.RFC3339

	recentReadingsLimit    = 10
	maxHistoryLimit        = 10000
	defaultAnalyticsWindow = 24 * time.Hour
)

func (s *Server) handleBanner(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":      "HydroSense water treatment monitoring",
		"version":   "1.0",
		"endpoints": []string{"/ws", "/api/devices", "/api/history/{deviceType}", "/api/analytics/{deviceType}", "/api/health"},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := false
	if s.feed != nil {
		connected = s.feed.Connected()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"uptime":           time.Since(s.started).Round(time.Second).Seconds(),
		"timestamp":        s.now().UTC().Format(timeLayout),
		"connectedClients": s.hub.SessionCount(),
		"mqttConnected":    connected,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"data":      s.service.Snapshot(),
		"status":    s.service.Report(),
		"timestamp": s.now().UTC().Format(timeLayout),
	}
	// The summary is decoration over the live state; a sink hiccup
	// must not blank the whole dashboard.
	if summary, err := s.sink.DeviceSummary(r.Context()); err != nil {
		s.logger.Printf("api: device summary: %v", err)
	} else {
		response["summary"] = summary
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleDeviceCategory(w http.ResponseWriter, r *http.Request) {
	kind, ok := sensors.ParseKind(chi.URLParam(r, "category"))
	if !ok {
		http.Error(w, "unknown device category", http.StatusNotFound)
		return
	}

	snapshot := s.service.Snapshot()
	category := s.service.Report().Category(kind)

	recent, err := s.sink.LatestByType(r.Context(), kind, recentReadingsLimit)
	if err != nil {
		s.logger.Printf("api: latest %s readings: %v", kind, err)
		http.Error(w, "query readings error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"value":          snapshot.Value(kind),
		"unit":           kind.Unit(),
		"devices":        category,
		"recentReadings": recent,
		"timestamp":      s.now().UTC().Format(timeLayout),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	kind, ok := sensors.ParseKind(chi.URLParam(r, "deviceType"))
	if !ok {
		http.Error(w, "unknown device type", http.StatusNotFound)
		return
	}

	filter, err := s.historyFilter(r, kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	readings, err := s.sink.Readings(r.Context(), filter)
	if err != nil {
		s.logger.Printf("api: history %s: %v", kind, err)
		http.Error(w, "query history error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"deviceType": kind,
		"readings":   readings,
		"count":      len(readings),
		"timestamp":  s.now().UTC().Format(timeLayout),
	})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	kind, ok := sensors.ParseKind(chi.URLParam(r, "deviceType"))
	if !ok {
		http.Error(w, "unknown device type", http.StatusNotFound)
		return
	}

	end := s.now().UTC()
	start := end.Add(-defaultAnalyticsWindow)
	query := r.URL.Query()
	if raw := query.Get("startTime"); raw != "" {
		parsed, err := time.Parse(timeLayout, raw)
		if err != nil {
			http.Error(w, "startTime must be RFC3339", http.StatusBadRequest)
			return
		}
		start = parsed.UTC()
	}
	if raw := query.Get("endTime"); raw != "" {
		parsed, err := time.Parse(timeLayout, raw)
		if err != nil {
			http.Error(w, "endTime must be RFC3339", http.StatusBadRequest)
			return
		}
		end = parsed.UTC()
	}
	if !end.After(start) {
		http.Error(w, "endTime must be after startTime", http.StatusBadRequest)
		return
	}

	stats, err := s.sink.HourlyAverages(r.Context(), kind, start, end)
	if err != nil {
		s.logger.Printf("api: analytics %s: %v", kind, err)
		http.Error(w, "query analytics error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"deviceType":  kind,
		"startTime":   start.Format(timeLayout),
		"endTime":     end.Format(timeLayout),
		"hourlyStats": stats,
		"timestamp":   s.now().UTC().Format(timeLayout),
	})
}

func (s *Server) historyFilter(r *http.Request, kind sensors.SensorKind) (storage.ReadingFilter, error) {
	filter := storage.ReadingFilter{
		DeviceType: kind,
		DeviceID:   r.URL.Query().Get("deviceId"),
	}

	query := r.URL.Query()
	if raw := query.Get("startTime"); raw != "" {
		parsed, err := time.Parse(timeLayout, raw)
		if err != nil {
			return filter, errors.New("startTime must be RFC3339")
		}
		filter.Start = parsed.UTC()
	}
	if raw := query.Get("endTime"); raw != "" {
		parsed, err := time.Parse(timeLayout, raw)
		if err != nil {
			return filter, errors.New("endTime must be RFC3339")
		}
		filter.End = parsed.UTC()
	}
	if !filter.Start.IsZero() && !filter.End.IsZero() && !filter.End.After(filter.Start) {
		return filter, errors.New("endTime must be after startTime")
	}
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxHistoryLimit {
			return filter, errors.New("limit must be between 1 and 10000")
		}
		filter.Limit = parsed
	}
	return filter.WithDefaults(s.now().UTC()), nil
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		http.Error(w, "publishing is not enabled", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Topic   string          `json:"topic"`
		Message json.RawMessage `json:"message"`
		Options struct {
			QoS    byte `json:"qos"`
			Retain bool `json:"retain"`
		} `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Topic == "" {
		http.Error(w, "topic is required", http.StatusBadRequest)
		return
	}
	if len(req.Message) == 0 {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	// A plain string message goes onto the wire unquoted; anything
	// else is forwarded as the raw JSON it arrived as.
	payload := []byte(req.Message)
	var asString string
	if err := json.Unmarshal(req.Message, &asString); err == nil {
		payload = []byte(asString)
	}

	if err := s.publisher.Publish(req.Topic, payload, req.Options.QoS, req.Options.Retain); err != nil {
		s.logger.Printf("api: publish %s: %v", req.Topic, err)
		http.Error(w, "publish error", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"topic":     req.Topic,
		"timestamp": s.now().UTC().Format(timeLayout),
	})
}

func (s *Server) handleBrokerStats(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		http.Error(w, "embedded broker is not enabled", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, s.broker.Stats())
}

func (s *Server) handleBrokerClients(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		http.Error(w, "embedded broker is not enabled", http.StatusServiceUnavailable)
		return
	}
	clients := s.broker.Clients()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"clients":   clients,
		"count":     len(clients),
		"timestamp": s.now().UTC().Format(timeLayout),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Printf("api: encode response: %v", err)
	}
}
