package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Routes WebSocket 接入与管理/监控接口
func (e *Engine) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", e.HandleWS)
	mux.HandleFunc("/snapshot", e.HandleSnapshot)
	mux.HandleFunc("/admin/config", e.HandleAdminConfig)
	mux.HandleFunc("/metrics", e.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// HandleAdminConfig 读取与热更新运行参数
// GET  /admin/config  返回当前配置
// POST /admin/config  以 JSON 载荷更新 tickIntervalMs
func (e *Engine) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	type cfg struct {
		TickIntervalMs    *int    `json:"tickIntervalMs,omitempty"`
		SubscriberBacklog int     `json:"subscriberBacklog,omitempty"`
		Framing           Framing `json:"framing,omitempty"`
		Subscribers       int     `json:"subscribers"`
		QueuedIntents     int     `json:"queuedIntents"`
	}

	switch r.Method {
	case http.MethodGet:
		ms := int(e.TickInterval() / time.Millisecond)
		cur := cfg{
			TickIntervalMs:    &ms,
			SubscriberBacklog: e.cfg.SubscriberBacklog,
			Framing:           e.cfg.Framing,
			Subscribers:       e.hub.Subscribers(),
			QueuedIntents:     e.queue.Len(),
		}
		writeJSON(w, cur)
		return
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.TickIntervalMs != nil {
			if *body.TickIntervalMs <= 0 {
				http.Error(w, "tickIntervalMs must be > 0", http.StatusBadRequest)
				return
			}
			e.SetTickInterval(time.Duration(*body.TickIntervalMs) * time.Millisecond)
		}
		writeJSON(w, map[string]any{"ok": true})
		Log.Infof("config updated: tickInterval=%s", e.TickInterval())
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}

// HandleMetrics 输出运行指标
func (e *Engine) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"tick":        e.TickSeq(),
		"subscribers": e.hub.Subscribers(),
		"metrics":     e.metrics.Snapshot(),
	}
	writeJSON(w, payload)
}

// HandleSnapshot 返回最近一次广播的快照，ETag 为快照摘要
func (e *Engine) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := e.Latest()
	if snap == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	etag := `"` + strconv.FormatUint(snap.Digest, 16) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("X-Tick", strconv.FormatUint(snap.Tick, 10))
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(snap.Data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
