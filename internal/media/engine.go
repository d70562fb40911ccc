package media

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/vidbridge/signaling/internal/config"
)

// How often a publisher is asked for a keyframe while subscribers are
// attached. Without PLI, late joiners wait for the next unsolicited
// keyframe, which some encoders never send.
const pliInterval = time.Second

// How long a subscribing endpoint waits for the publisher's RTP to start
// before its negotiation fails. The subscriber's answer must carry the
// forwarded tracks up front: the wire protocol has no renegotiation path, so
// a track added after the answer never reaches the browser.
const mirrorWaitTimeout = 10 * time.Second

// Engine is the pion/webrtc implementation of Factory. Every Endpoint is
// backed by one PeerConnection; a sink endpoint binds its source's mirrored
// inbound tracks while answering and the source fans its RTP out into them.
type Engine struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	log        *slog.Logger
}

func NewEngine(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	se := webrtc.SettingEngine{
		LoggerFactory: &slogLoggerFactory{logger: logger},
	}
	if err := applyNetworkSettings(&se, cfg); err != nil {
		return nil, err
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	return &Engine{
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(me)),
		iceServers: cfg.ICEServers,
		log:        logger,
	}, nil
}

func applyNetworkSettings(se *webrtc.SettingEngine, cfg config.Config) error {
	if cfg.WebRTCUDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(cfg.WebRTCUDPPortRange.Min, cfg.WebRTCUDPPortRange.Max); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	if len(cfg.WebRTCNAT1To1IPs) > 0 {
		se.SetNAT1To1IPs(cfg.WebRTCNAT1To1IPs, webrtc.ICECandidateTypeHost)
	}

	// SettingEngine doesn't expose a plain bind address; restrict candidate
	// gathering and socket binding via IPFilter instead.
	if !config.IsUnspecifiedIP(cfg.WebRTCUDPListenIP) {
		listenIP := cfg.WebRTCUDPListenIP
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}

	return nil
}

func (e *Engine) CreatePipeline() (Pipeline, error) {
	return &pipeline{
		engine:    e,
		endpoints: make(map[*endpoint]struct{}),
	}, nil
}

type pipeline struct {
	engine *Engine

	mu        sync.Mutex
	endpoints map[*endpoint]struct{}
	released  bool
}

func (p *pipeline) CreateEndpoint() (Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil, ErrReleased
	}

	pc, err := p.engine.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: p.engine.iceServers,
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	ep := &endpoint{
		pipeline:  p,
		pc:        pc,
		log:       p.engine.log,
		done:      make(chan struct{}),
		mirrorSig: make(chan struct{}),
	}
	pc.OnTrack(ep.handleTrack)
	pc.OnICECandidate(ep.handleLocalCandidate)

	p.endpoints[ep] = struct{}{}
	return ep, nil
}

func (p *pipeline) Release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	eps := make([]*endpoint, 0, len(p.endpoints))
	for ep := range p.endpoints {
		eps = append(eps, ep)
	}
	p.endpoints = nil
	p.mu.Unlock()

	var errs []error
	for _, ep := range eps {
		if err := ep.Release(); err != nil && !errors.Is(err, ErrReleased) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *pipeline) forget(ep *endpoint) {
	p.mu.Lock()
	if p.endpoints != nil {
		delete(p.endpoints, ep)
	}
	p.mu.Unlock()
}

type endpoint struct {
	pipeline *pipeline
	pc       *webrtc.PeerConnection
	log      *slog.Logger
	done     chan struct{}

	mu          sync.Mutex
	released    bool
	onCandidate func(Candidate)
	gathering   bool
	queued      []Candidate
	// queuedRemote holds client candidates that arrived before the remote
	// description existed; ProcessOffer applies them.
	queuedRemote []Candidate
	mirrors      []*webrtc.TrackLocalStaticRTP
	// mirrorSig is closed and replaced whenever mirrors grows.
	mirrorSig chan struct{}
	source    *endpoint
	sinks     []*endpoint
}

func (e *endpoint) ProcessOffer(sdpOffer string) (string, error) {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return "", ErrReleased
	}
	src := e.source
	e.mu.Unlock()

	// A sink answers with the tracks it will forward. The browser offers
	// before the publisher's RTP necessarily flows, so wait for the
	// publisher's mirrors and bind them ahead of the answer.
	if src != nil {
		kinds, err := offerMediaKinds(sdpOffer)
		if err != nil {
			return "", err
		}
		tracks, err := src.awaitMirrors(kinds, mirrorWaitTimeout, e.done)
		if err != nil {
			return "", fmt.Errorf("await publisher tracks: %w", err)
		}
		for _, track := range tracks {
			if err := e.addTrack(track); err != nil {
				return "", err
			}
		}
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdpOffer}
	if err := e.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	e.mu.Lock()
	queuedRemote := e.queuedRemote
	e.queuedRemote = nil
	e.mu.Unlock()
	for _, c := range queuedRemote {
		if err := e.pc.AddICECandidate(candidateInit(c)); err != nil {
			e.log.Warn("apply queued candidate", "err", err)
		}
	}

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

// offerMediaKinds lists the media kinds negotiated by an SDP offer, one entry
// per audio or video m-line.
func offerMediaKinds(sdpOffer string) ([]webrtc.RTPCodecType, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(sdpOffer)); err != nil {
		return nil, fmt.Errorf("parse offer: %w", err)
	}
	var kinds []webrtc.RTPCodecType
	for _, m := range parsed.MediaDescriptions {
		switch m.MediaName.Media {
		case "audio":
			kinds = append(kinds, webrtc.RTPCodecTypeAudio)
		case "video":
			kinds = append(kinds, webrtc.RTPCodecTypeVideo)
		}
	}
	return kinds, nil
}

// awaitMirrors blocks until the endpoint has a mirrored track for every
// requested kind, then returns one track per kind. It gives up when timeout
// elapses, the endpoint is released, or cancel closes.
func (e *endpoint) awaitMirrors(kinds []webrtc.RTPCodecType, timeout time.Duration, cancel <-chan struct{}) ([]*webrtc.TrackLocalStaticRTP, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		e.mu.Lock()
		if e.released {
			e.mu.Unlock()
			return nil, ErrReleased
		}
		tracks := mirrorsByKind(e.mirrors, kinds)
		sig := e.mirrorSig
		e.mu.Unlock()

		if tracks != nil {
			return tracks, nil
		}
		select {
		case <-sig:
		case <-e.done:
			return nil, ErrReleased
		case <-cancel:
			return nil, ErrReleased
		case <-deadline.C:
			return nil, fmt.Errorf("no publisher media after %v", timeout)
		}
	}
}

// mirrorsByKind picks one mirror per requested kind, or nil when any kind has
// no mirror yet.
func mirrorsByKind(mirrors []*webrtc.TrackLocalStaticRTP, kinds []webrtc.RTPCodecType) []*webrtc.TrackLocalStaticRTP {
	tracks := make([]*webrtc.TrackLocalStaticRTP, 0, len(kinds))
	for _, kind := range kinds {
		var found *webrtc.TrackLocalStaticRTP
		for _, m := range mirrors {
			if m.Kind() == kind {
				found = m
				break
			}
		}
		if found == nil {
			return nil
		}
		tracks = append(tracks, found)
	}
	return tracks
}

// GatherCandidates opens the candidate gate: pion starts gathering as soon
// as the local description is set, so candidates discovered before this call
// are queued and replayed here, in order.
func (e *endpoint) GatherCandidates() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return ErrReleased
	}
	e.gathering = true
	cb := e.onCandidate
	queued := e.queued
	e.queued = nil
	e.mu.Unlock()

	if cb != nil {
		for _, c := range queued {
			cb(c)
		}
	}
	return nil
}

// AddCandidate applies a client candidate, holding it back until the remote
// description exists; pion rejects candidates on an unnegotiated connection.
func (e *endpoint) AddCandidate(c Candidate) error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return ErrReleased
	}
	if e.pc.RemoteDescription() == nil {
		e.queuedRemote = append(e.queuedRemote, c)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return e.pc.AddICECandidate(candidateInit(c))
}

func candidateInit(c Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

func (e *endpoint) OnCandidateDiscovered(cb func(Candidate)) {
	e.mu.Lock()
	e.onCandidate = cb
	e.mu.Unlock()
}

// Connect routes this endpoint's media into sink. The sink binds the tracks
// when it negotiates, so Connect must precede the sink's ProcessOffer.
func (e *endpoint) Connect(sink Endpoint) error {
	dst, ok := sink.(*endpoint)
	if !ok {
		return fmt.Errorf("connect: foreign endpoint %T", sink)
	}

	dst.mu.Lock()
	if dst.released {
		dst.mu.Unlock()
		return ErrReleased
	}
	dst.source = e
	dst.mu.Unlock()

	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return ErrReleased
	}
	e.sinks = append(e.sinks, dst)
	e.mu.Unlock()
	return nil
}

func (e *endpoint) Release() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return ErrReleased
	}
	e.released = true
	close(e.done)
	e.mu.Unlock()

	e.pipeline.forget(e)
	if err := e.pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}

func (e *endpoint) addTrack(track *webrtc.TrackLocalStaticRTP) error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return ErrReleased
	}
	e.mu.Unlock()

	if _, err := e.pc.AddTrack(track); err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	return nil
}

func (e *endpoint) hasSinks() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sinks) > 0
}

// handleTrack mirrors an inbound remote track into a local static RTP track
// and wakes sinks blocked in awaitMirrors. Sinks bind the mirror themselves
// while negotiating.
func (e *endpoint) handleTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	mirror, err := webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, remote.ID(), remote.StreamID())
	if err != nil {
		e.log.Error("mirror track", "err", err)
		return
	}

	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	e.mirrors = append(e.mirrors, mirror)
	close(e.mirrorSig)
	e.mirrorSig = make(chan struct{})
	e.mu.Unlock()

	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		go e.pliLoop(remote.SSRC())
	}
	go e.forward(remote, mirror)
}

func (e *endpoint) forward(remote *webrtc.TrackRemote, mirror *webrtc.TrackLocalStaticRTP) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-e.done:
			return
		default:
		}

		n, _, err := remote.Read(buf)
		if err != nil {
			return
		}
		if _, err := mirror.Write(buf[:n]); err != nil {
			return
		}
	}
}

func (e *endpoint) pliLoop(ssrc webrtc.SSRC) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			if !e.hasSinks() {
				continue
			}
			pkt := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}}
			if err := e.pc.WriteRTCP(pkt); err != nil {
				return
			}
		}
	}
}

// handleLocalCandidate queues discovered candidates until GatherCandidates
// has been called, so the owning session can register its forwarding
// callback and deliver the SDP answer first.
func (e *endpoint) handleLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		// End of gathering.
		return
	}
	init := c.ToJSON()
	cand := Candidate{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	}

	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	if !e.gathering || e.onCandidate == nil {
		e.queued = append(e.queued, cand)
		e.mu.Unlock()
		return
	}
	cb := e.onCandidate
	e.mu.Unlock()

	cb(cand)
}
