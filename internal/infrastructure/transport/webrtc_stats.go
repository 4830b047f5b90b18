package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gridtune/internal/core/domain"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// TelemetrySink receives the samples derived from RTCP reports.
type TelemetrySink interface {
	Ingest(streamID domain.StreamID, sample domain.StreamTelemetry) error
}

// rtcpSource yields inbound RTCP compound packets for one stream.
// Satisfied by *webrtc.RTPReceiver.
type rtcpSource interface {
	ReadRTCP() ([]rtcp.Packet, interceptor.Attributes, error)
}

// rtcpWriter sends RTCP packets back to the remote sender.
// Satisfied by *webrtc.PeerConnection.
type rtcpWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// trackBinding holds everything needed to watch one inbound stream and
// to steer its sender via REMB.
type trackBinding struct {
	streamID domain.StreamID
	writer   rtcpWriter
	source   rtcpSource
	ssrc     uint32

	// Last known encoding parameters; RTCP carries loss and jitter but
	// not resolution or frame rate, so signaling keeps these current.
	mu      sync.RWMutex
	profile domain.Resolution
	fps     float64
	bitrate int
	frames  int64
	dropped int64
}

// WebRTCStats derives per-stream telemetry from RTCP receiver reports and
// applies tier switches by constraining the remote sender with REMB.
type WebRTCStats struct {
	sink  TelemetrySink
	tiers domain.TierTable

	bindings map[domain.StreamID]*trackBinding
	mu       sync.RWMutex

	logger *zap.SugaredLogger
}

func NewWebRTCStats(sink TelemetrySink, tiers domain.TierTable, logger *zap.SugaredLogger) *WebRTCStats {
	return &WebRTCStats{
		sink:     sink,
		tiers:    tiers,
		bindings: make(map[domain.StreamID]*trackBinding),
		logger:   logger,
	}
}

// BindTrack attaches a remote track to a stream and starts the RTCP
// reader for it. Rebinding a stream replaces its previous track.
func (w *WebRTCStats) BindTrack(streamID domain.StreamID, pc *webrtc.PeerConnection, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	w.logger.Infow("bound remote track",
		"stream_id", streamID,
		"codec", track.Codec().MimeType,
		"ssrc", track.SSRC(),
	)

	w.bind(streamID, uint32(track.SSRC()), pc, receiver)
}

func (w *WebRTCStats) bind(streamID domain.StreamID, ssrc uint32, writer rtcpWriter, source rtcpSource) {
	binding := &trackBinding{
		streamID: streamID,
		writer:   writer,
		source:   source,
		ssrc:     ssrc,
	}

	w.mu.Lock()
	w.bindings[streamID] = binding
	w.mu.Unlock()

	go w.readRTCP(binding)
}

// UnbindTrack stops watching a stream.
func (w *WebRTCStats) UnbindTrack(streamID domain.StreamID) {
	w.mu.Lock()
	delete(w.bindings, streamID)
	w.mu.Unlock()
}

// UpdateProfile records the encoding parameters the sender reported via
// signaling. They are merged into every derived telemetry sample.
func (w *WebRTCStats) UpdateProfile(streamID domain.StreamID, res domain.Resolution, fps float64, bitrateKbps int, framesReceived, framesDropped int64) {
	w.mu.RLock()
	binding, ok := w.bindings[streamID]
	w.mu.RUnlock()
	if !ok {
		return
	}

	binding.mu.Lock()
	binding.profile = res
	binding.fps = fps
	binding.bitrate = bitrateKbps
	binding.frames = framesReceived
	binding.dropped = framesDropped
	binding.mu.Unlock()
}

// ApplyTier constrains the remote sender to the tier's bitrate target by
// sending a REMB packet on the bound peer connection.
func (w *WebRTCStats) ApplyTier(ctx context.Context, streamID domain.StreamID, tier domain.Tier) error {
	if !tier.Valid() {
		return domain.ErrInvalidTier
	}

	w.mu.RLock()
	binding, ok := w.bindings[streamID]
	w.mu.RUnlock()
	if !ok {
		return domain.ErrUnknownStream
	}

	spec := w.tiers.Spec(tier)
	bitrateBps := uint64(spec.TargetBitrateKbps) * 1000

	remb := &rtcp.ReceiverEstimatedMaximumBitrate{
		Bitrate: float32(bitrateBps),
		SSRCs:   []uint32{binding.ssrc},
	}

	if err := binding.writer.WriteRTCP([]rtcp.Packet{remb}); err != nil {
		return fmt.Errorf("failed to send REMB for stream %s: %w", streamID, err)
	}

	w.logger.Infow("applied tier via REMB",
		"stream_id", streamID,
		"tier", tier.String(),
		"bitrate_bps", bitrateBps,
	)

	return nil
}

// readRTCP consumes receiver reports until the receiver closes and turns
// them into telemetry samples.
func (w *WebRTCStats) readRTCP(binding *trackBinding) {
	for {
		packets, _, err := binding.source.ReadRTCP()
		if err != nil {
			w.logger.Infow("rtcp reader stopped",
				"stream_id", binding.streamID,
				"error", err,
			)
			return
		}

		// Drop the binding's reports once it has been replaced.
		w.mu.RLock()
		current, ok := w.bindings[binding.streamID]
		w.mu.RUnlock()
		if !ok || current != binding {
			return
		}

		if sample, ok := w.sampleFromRTCP(binding, packets); ok {
			if err := w.sink.Ingest(binding.streamID, sample); err != nil {
				w.logger.Warnw("failed to ingest rtcp-derived sample",
					"stream_id", binding.streamID,
					"error", err,
				)
			}
		}
	}
}

// sampleFromRTCP folds one RTCP compound packet into a telemetry sample.
// Returns false when the packet carries no receiver reports.
func (w *WebRTCStats) sampleFromRTCP(binding *trackBinding, packets []rtcp.Packet) (domain.StreamTelemetry, bool) {
	var totalLost float64
	var totalJitter uint32
	reports := 0

	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				totalLost += float64(report.FractionLost) / 255.0 * 100.0
				totalJitter += report.Jitter
				reports++
			}

		case *rtcp.TransportLayerNack:
			w.logger.Debugw("received NACK",
				"stream_id", binding.streamID,
				"nacks", len(p.Nacks),
			)

		case *rtcp.PictureLossIndication:
			w.logger.Debugw("received PLI",
				"stream_id", binding.streamID,
			)
		}
	}

	if reports == 0 {
		return domain.StreamTelemetry{}, false
	}

	binding.mu.RLock()
	profile := binding.profile
	fps := binding.fps
	bitrate := binding.bitrate
	frames := binding.frames
	dropped := binding.dropped
	binding.mu.RUnlock()

	// Interarrival jitter is in clock-rate units; assume the 90 kHz
	// video clock.
	jitterMs := float64(totalJitter/uint32(reports)) / 90.0

	return domain.StreamTelemetry{
		StreamID:       binding.streamID,
		Timestamp:      time.Now(),
		BitrateKbps:    bitrate,
		FPS:            fps,
		Resolution:     profile,
		PacketLossPct:  totalLost / float64(reports),
		JitterMs:       jitterMs,
		FramesReceived: frames,
		FramesDropped:  dropped,
	}, true
}
