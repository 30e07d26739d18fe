// Package alert fans detected fire events out to subscribed recipients.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/firesentinel/firesentinel/internal/config"
	"github.com/firesentinel/firesentinel/internal/geo"
	"github.com/firesentinel/firesentinel/internal/httputil"
	"github.com/firesentinel/firesentinel/internal/metrics"
	"github.com/firesentinel/firesentinel/internal/models"
	"github.com/firesentinel/firesentinel/internal/store"
)

const DefaultTelegramURL = "https://api.telegram.org"

// Dispatcher delivers alerts for a batch of events and reports how many
// messages went out.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []models.FireEvent) (int, error)
}

// TelegramDispatcher sends per-subscription alerts through the Telegram
// Bot API, rate limited per (event, subscription) pair.
type TelegramDispatcher struct {
	token   string
	baseURL string
	client  *http.Client
	store   *store.Store
	cfg     config.Alerts
}

func NewTelegramDispatcher(token string, st *store.Store, cfg config.Alerts) *TelegramDispatcher {
	return &TelegramDispatcher{
		token:   token,
		baseURL: DefaultTelegramURL,
		client:  httputil.NewClient(),
		store:   st,
		cfg:     cfg,
	}
}

// SetBaseURL overrides the Bot API endpoint. Used in tests.
func (d *TelegramDispatcher) SetBaseURL(u string) { d.baseURL = u }

// Dispatch matches each event against the active subscriptions and
// sends one message per match. A failed send is logged and does not
// stop delivery to other recipients.
func (d *TelegramDispatcher) Dispatch(ctx context.Context, events []models.FireEvent) (int, error) {
	subs, err := d.store.ActiveSubscriptions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	floor := models.SeverityRank(models.Severity(d.cfg.MinSeverity))
	rateLimit := time.Duration(d.cfg.RateLimitMinutes) * time.Minute

	sent := 0
	failedSends := 0
	for _, ev := range events {
		rank := models.SeverityRank(ev.Severity)
		if rank < floor {
			continue
		}
		for _, sub := range subs {
			if rank < models.SeverityRank(sub.MinSeverity) {
				continue
			}
			distM := geo.Haversine(ev.CentroidLat, ev.CentroidLon, sub.CenterLat, sub.CenterLon)
			if distM > sub.RadiusKm*1000 {
				continue
			}

			last, err := d.store.LastAlertAt(ctx, ev.ID, sub.ID)
			if err != nil {
				log.Printf("alert: rate limit lookup for event %s sub %s: %v", ev.ID, sub.ID, err)
				failedSends++
				continue
			}
			if !last.IsZero() && time.Since(last) < rateLimit {
				continue
			}

			msg := formatMessage(ev, sub, distM/1000)
			if err := d.send(ctx, sub.ChatID, msg); err != nil {
				log.Printf("alert: send to chat %s failed: %v", sub.ChatID, err)
				failedSends++
				continue
			}

			var label models.IntentLabel
			if ev.Intent != nil {
				label = ev.Intent.Label()
			}
			if err := d.store.RecordAlertSent(ctx, ev.ID, sub.ID, ev.Severity, label, time.Now().UTC()); err != nil {
				log.Printf("alert: record sent alert for event %s: %v", ev.ID, err)
			}
			metrics.AlertsSent.Inc()
			sent++
		}
	}

	if failedSends > 0 {
		return sent, fmt.Errorf("alert: %d sends failed", failedSends)
	}
	return sent, nil
}

func formatMessage(ev models.FireEvent, sub models.AlertSubscription, distKm float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FIRE ALERT [%s]\n", strings.ToUpper(string(ev.Severity)))
	if sub.Label != "" {
		fmt.Fprintf(&b, "Zone: %s (%.1f km from centre)\n", sub.Label, distKm)
	}
	fmt.Fprintf(&b, "Location: %.4f, %.4f\n", ev.CentroidLat, ev.CentroidLon)
	fmt.Fprintf(&b, "Hotspots: %d | Max FRP: %.1f MW\n", ev.HotspotCount, ev.MaxFRP)
	fmt.Fprintf(&b, "First detected: %s\n", ev.FirstDetected.UTC().Format("2006-01-02 15:04 UTC"))
	if ev.Intent != nil {
		fmt.Fprintf(&b, "Intent assessment: %s (%d/100)\n", ev.Intent.Label(), ev.Intent.Total())
	}
	if ev.Weather != nil {
		fmt.Fprintf(&b, "Conditions: %.0f%% RH, wind %.0f km/h\n",
			ev.Weather.RelativeHumidity, ev.Weather.WindSpeedKmh)
	}
	return b.String()
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (d *TelegramDispatcher) send(ctx context.Context, chatID, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", d.baseURL, d.token)
	form := url.Values{
		"chat_id": {chatID},
		"text":    {text},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	var tr telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !tr.OK {
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, tr.Description)
	}
	return nil
}
