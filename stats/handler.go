// Package stats sends the result of a run to a prometheus pushgateway and a webhook.
package stats

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/vshn/timevault/orchestrator"
)

const (
	job = "timevault"

	defaultTimeout = 30 * time.Second
)

var _ orchestrator.StatsHandler = &Handler{}

type Handler struct {
	promURL      string
	promHostname string
	webhookURL   string
	client       *http.Client
	log          logr.Logger
}

// NewHandler returns a Handler. Empty URLs disable the respective target.
func NewHandler(promURL, promHostname, webhookURL string, log logr.Logger) *Handler {
	return &Handler{
		promHostname: promHostname,
		promURL:      promURL,
		webhookURL:   webhookURL,
		client:       &http.Client{Timeout: defaultTimeout},
		log:          log.WithName("statsHandler"),
	}
}

func (h *Handler) SendPrometheus(promStats orchestrator.PrometheusProvider) error {
	if h.promURL == "" {
		return nil
	}

	promLogger := h.log.WithName("promStats")

	promLogger.Info("sending prometheus stats", "url", h.promURL)

	pusher := push.New(h.promURL, job).
		Client(h.client).
		Grouping("instance", h.promHostname)
	for _, stat := range promStats.ToProm() {
		pusher = pusher.Collector(stat)
	}
	if err := pusher.Add(); err != nil {
		return fmt.Errorf("could not push prometheus stats: %w", err)
	}
	return nil
}

func (h *Handler) SendWebhook(hook orchestrator.WebhookProvider) error {
	if h.webhookURL == "" {
		return nil
	}

	webhookLogger := h.log.WithName("webhookStats")

	webhookLogger.Info("sending webhooks", "url", h.webhookURL)

	data := hook.ToJSON()

	if len(data) <= 0 {
		return fmt.Errorf("webhook data is empty")
	}

	resp, err := h.client.Post(h.webhookURL, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("could not send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("could not send webhook: http status code: %s", resp.Status)
	}
	return nil
}
