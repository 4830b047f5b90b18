package probe

import (
	"context"
	"time"

	"gridtune/internal/core/domain"
)

// StaticProbe returns a fixed ambient reading. Used when the deployment
// has a known, provisioned link and in tests.
type StaticProbe struct {
	reading domain.NetworkReading
}

func NewStaticProbe(downlinkMbps, rttMs float64, connectionClass string, saveData bool) *StaticProbe {
	return &StaticProbe{
		reading: domain.NetworkReading{
			DownlinkMbps:    downlinkMbps,
			RTTMs:           rttMs,
			ConnectionClass: connectionClass,
			SaveData:        saveData,
		},
	}
}

func (p *StaticProbe) AmbientReading(ctx context.Context) (domain.NetworkReading, error) {
	reading := p.reading
	reading.Timestamp = time.Now()
	return reading, nil
}
