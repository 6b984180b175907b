// Package video provides a network camera frame source. It connects to a
// GStreamer-style WebRTC signalling server, receives the H264 video track,
// and decodes it into BGR frames for the scan pipeline.
package video

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/quicklens/snapmark/internal/log"
	"github.com/quicklens/snapmark/pkg/scan"
)

// ErrAlreadyStreaming is returned by Start when the source is running.
var ErrAlreadyStreaming = errors.New("video: source already streaming")

// Config holds the network source settings.
type Config struct {
	// SignallingURL is the websocket signalling endpoint, e.g. ws://10.0.0.5:8443
	SignallingURL string

	// ProducerName selects which producer on the signalling server to consume.
	ProducerName string

	// DecodeInterval rate-limits decoding. 50ms caps delivery at 20 FPS.
	DecodeInterval time.Duration
}

// DefaultConfig returns settings for a local signalling server.
func DefaultConfig() Config {
	return Config{
		SignallingURL:  "ws://localhost:8443",
		ProducerName:   "camera",
		DecodeInterval: 50 * time.Millisecond,
	}
}

// Source consumes a remote WebRTC video stream and implements the pipeline's
// frame source contract.
type Source struct {
	cfg     Config
	decoder *Decoder

	mu      sync.Mutex
	ws      *websocket.Conn
	wsMu    sync.Mutex
	pc      *webrtc.PeerConnection
	onFrame func(scan.Frame)
	active  bool
	closed  bool
	seq     uint64

	myPeerID   string
	producerID string
	sessionID  string

	trackReady chan struct{}
}

// NewSource creates a network camera source.
func NewSource(cfg Config) *Source {
	if cfg.DecodeInterval <= 0 {
		cfg.DecodeInterval = DefaultConfig().DecodeInterval
	}
	return &Source{
		cfg:        cfg,
		decoder:    NewDecoder(cfg.DecodeInterval),
		trackReady: make(chan struct{}, 1),
	}
}

// Start connects to the signalling server and begins delivering frames to
// onFrame. It returns once the video track is flowing or the connection fails.
func (s *Source) Start(onFrame func(scan.Frame)) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrAlreadyStreaming
	}
	s.onFrame = onFrame
	s.closed = false
	s.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.Dial(s.cfg.SignallingURL, nil)
	if err != nil {
		return fmt.Errorf("connect signalling server: %w", err)
	}
	s.ws = ws

	if err := s.waitForWelcome(); err != nil {
		ws.Close()
		return fmt.Errorf("signalling welcome: %w", err)
	}

	if err := s.findProducer(); err != nil {
		ws.Close()
		return fmt.Errorf("find producer: %w", err)
	}
	log.Debug("found video producer", "producer", s.producerID)

	if err := s.createPeerConnection(); err != nil {
		ws.Close()
		return fmt.Errorf("create peer connection: %w", err)
	}

	if err := s.startSession(); err != nil {
		s.teardown()
		return fmt.Errorf("start session: %w", err)
	}

	go s.handleSignalling()

	select {
	case <-s.trackReady:
	case <-time.After(15 * time.Second):
		s.teardown()
		return errors.New("video: timeout waiting for video track")
	}

	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	log.Info("network camera streaming", "url", s.cfg.SignallingURL)
	return nil
}

// Stop tears down the connection. Safe to call more than once.
func (s *Source) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.active = false
	s.mu.Unlock()

	s.teardown()
	return nil
}

// IsActive reports whether frames are being delivered.
func (s *Source) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Source) teardown() {
	if s.pc != nil {
		s.pc.Close()
	}
	if s.ws != nil {
		s.ws.Close()
	}
}

func (s *Source) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Source) waitForWelcome() error {
	s.ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := s.ws.ReadMessage()
	s.ws.SetReadDeadline(time.Time{})
	if err != nil {
		return err
	}

	var welcome struct {
		Type   string `json:"type"`
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(msg, &welcome); err != nil {
		return err
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %s", welcome.Type)
	}
	s.myPeerID = welcome.PeerID
	return nil
}

func (s *Source) findProducer() error {
	if err := s.writeJSON(map[string]string{"type": "list"}); err != nil {
		return err
	}

	s.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := s.ws.ReadMessage()
	s.ws.SetReadDeadline(time.Time{})
	if err != nil {
		return err
	}

	var listResp struct {
		Type      string `json:"type"`
		Producers []struct {
			ID   string            `json:"id"`
			Meta map[string]string `json:"meta"`
		} `json:"producers"`
	}
	if err := json.Unmarshal(msg, &listResp); err != nil {
		return err
	}

	for _, p := range listResp.Producers {
		if name, ok := p.Meta["name"]; ok && name == s.cfg.ProducerName {
			s.producerID = p.ID
			return nil
		}
	}
	return fmt.Errorf("producer %q not found among %d producers", s.cfg.ProducerName, len(listResp.Producers))
}

func (s *Source) createPeerConnection() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	s.pc = pc

	// Receive-only video
	if _, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Debug("got remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go s.handleVideoTrack(track)
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			s.sendICECandidate(candidate)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("peer connection state changed", "state", state.String())
	})

	return nil
}

func (s *Source) startSession() error {
	return s.writeJSON(map[string]string{
		"type":   "startSession",
		"peerId": s.producerID,
	})
}

func (s *Source) handleSignalling() {
	for !s.isClosed() {
		_, msg, err := s.ws.ReadMessage()
		if err != nil {
			if !s.isClosed() {
				log.Warn("signalling read failed", "error", err)
			}
			return
		}

		var baseMsg struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
		}
		json.Unmarshal(msg, &baseMsg)

		switch baseMsg.Type {
		case "sessionStarted":
			s.sessionID = baseMsg.SessionID

		case "peer":
			s.handlePeerMessage(msg)

		case "endSession":
			return
		}
	}
}

func (s *Source) handlePeerMessage(msg []byte) {
	var peerMsg map[string]interface{}
	json.Unmarshal(msg, &peerMsg)

	if sdpData, ok := peerMsg["sdp"]; ok {
		sdpMap, ok := sdpData.(map[string]interface{})
		if !ok {
			return
		}
		sdpType, _ := sdpMap["type"].(string)
		sdpStr, _ := sdpMap["sdp"].(string)

		if sdpType == "offer" {
			offer := webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer,
				SDP:  sdpStr,
			}

			if err := s.pc.SetRemoteDescription(offer); err != nil {
				log.Warn("set remote description failed", "error", err)
				return
			}

			answer, err := s.pc.CreateAnswer(nil)
			if err != nil {
				log.Warn("create answer failed", "error", err)
				return
			}

			if err := s.pc.SetLocalDescription(answer); err != nil {
				log.Warn("set local description failed", "error", err)
				return
			}

			s.sendSDP(answer)
		}
	}

	if iceData, ok := peerMsg["ice"]; ok {
		iceMap, ok := iceData.(map[string]interface{})
		if !ok {
			return
		}
		candidate, _ := iceMap["candidate"].(string)

		var sdpMid string
		if mid, ok := iceMap["sdpMid"]; ok && mid != nil {
			sdpMid, _ = mid.(string)
		}

		var sdpMLineIndex uint16
		if idx, ok := iceMap["sdpMLineIndex"]; ok && idx != nil {
			if f, ok := idx.(float64); ok {
				sdpMLineIndex = uint16(f)
			}
		}

		s.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     candidate,
			SDPMid:        &sdpMid,
			SDPMLineIndex: &sdpMLineIndex,
		})
	}
}

func (s *Source) sendSDP(sdp webrtc.SessionDescription) {
	s.writeJSON(map[string]interface{}{
		"type":      "peer",
		"sessionId": s.sessionID,
		"sdp": map[string]string{
			"type": sdp.Type.String(),
			"sdp":  sdp.SDP,
		},
	})
}

func (s *Source) sendICECandidate(candidate *webrtc.ICECandidate) {
	if s.sessionID == "" {
		return
	}

	init := candidate.ToJSON()
	s.writeJSON(map[string]interface{}{
		"type":      "peer",
		"sessionId": s.sessionID,
		"ice": map[string]interface{}{
			"candidate":     init.Candidate,
			"sdpMid":        init.SDPMid,
			"sdpMLineIndex": init.SDPMLineIndex,
		},
	})
}

func (s *Source) writeJSON(v interface{}) error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return s.ws.WriteJSON(v)
}

// handleVideoTrack reads RTP packets from the track, reassembles H264 access
// units on the RTP marker bit, and hands them to the decoder.
func (s *Source) handleVideoTrack(track *webrtc.TrackRemote) {
	select {
	case s.trackReady <- struct{}{}:
	default:
	}

	var unit bytes.Buffer
	for !s.isClosed() {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		s.appendPacket(&unit, pkt)
	}
}

// appendPacket accumulates RTP payload until the marker bit signals the end
// of an access unit, then decodes and delivers the frame.
func (s *Source) appendPacket(unit *bytes.Buffer, pkt *rtp.Packet) {
	unit.Write(pkt.Payload)
	if !pkt.Marker {
		return
	}

	data := unit.Bytes()
	unit.Reset()

	frame, ok, err := s.decoder.Decode(data)
	if err != nil {
		log.Debug("frame decode failed", "error", err)
		return
	}
	if !ok {
		return
	}

	s.mu.Lock()
	s.seq++
	frame.Seq = s.seq
	frame.Timestamp = time.Now()
	deliver := s.onFrame
	closed := s.closed
	s.mu.Unlock()

	if !closed && deliver != nil {
		deliver(frame)
	}
}
