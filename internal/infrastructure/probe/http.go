package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gridtune/internal/core/domain"

	"go.uber.org/zap"
)

// HTTPProbe fetches the ambient reading from an external link monitor.
// The last good reading is cached; a fetch failure serves the cached
// value as long as it is fresh enough.
type HTTPProbe struct {
	url    string
	client *http.Client
	maxAge time.Duration
	logger *zap.SugaredLogger

	mu   sync.RWMutex
	last domain.NetworkReading
}

type probeResponse struct {
	DownlinkMbps    float64 `json:"downlink_mbps"`
	RTTMs           float64 `json:"rtt_ms"`
	ConnectionClass string  `json:"connection_class"`
	SaveData        bool    `json:"save_data"`
}

func NewHTTPProbe(url string, timeout time.Duration, logger *zap.SugaredLogger) *HTTPProbe {
	return &HTTPProbe{
		url:    url,
		client: &http.Client{Timeout: timeout},
		maxAge: 30 * time.Second,
		logger: logger,
	}
}

func (p *HTTPProbe) AmbientReading(ctx context.Context) (domain.NetworkReading, error) {
	reading, err := p.fetch(ctx)
	if err == nil {
		p.mu.Lock()
		p.last = reading
		p.mu.Unlock()
		return reading, nil
	}

	p.mu.RLock()
	last := p.last
	p.mu.RUnlock()

	if !last.Timestamp.IsZero() && time.Since(last.Timestamp) < p.maxAge {
		p.logger.Warnw("probe fetch failed, serving cached reading",
			"error", err,
			"age", time.Since(last.Timestamp).Round(time.Millisecond),
		)
		return last, nil
	}

	return domain.NetworkReading{}, fmt.Errorf("probe fetch failed with no usable cache: %w", err)
}

func (p *HTTPProbe) fetch(ctx context.Context) (domain.NetworkReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return domain.NetworkReading{}, fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.NetworkReading{}, fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.NetworkReading{}, fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	var body probeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.NetworkReading{}, fmt.Errorf("failed to decode probe response: %w", err)
	}

	if body.DownlinkMbps < 0 || body.RTTMs < 0 {
		return domain.NetworkReading{}, fmt.Errorf("probe returned negative link values")
	}

	return domain.NetworkReading{
		DownlinkMbps:    body.DownlinkMbps,
		RTTMs:           body.RTTMs,
		ConnectionClass: body.ConnectionClass,
		SaveData:        body.SaveData,
		Timestamp:       time.Now(),
	}, nil
}
