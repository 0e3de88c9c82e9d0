package rtc

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/engine"
	"github.com/dkeye/Relay/internal/engine/enginetest"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	caps, err := engine.GenerateRouterRtpCapabilities(enginetest.DefaultCodecs())
	require.NoError(t, err)
	return &Router{
		id:         "r1",
		caps:       caps,
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
	}
}

func addTransport(r *Router, id string) *Transport {
	t := newTransport(id, r)
	r.transports[id] = t
	return t
}

func TestConnectValidatesDtls(t *testing.T) {
	r := newTestRouter(t)
	tr := addTransport(r, "t1")
	ctx := context.Background()

	cases := map[string]engine.DtlsParameters{
		"no fingerprints": {Role: engine.DtlsRoleClient},
		"bad algorithm":   {Fingerprints: []engine.DtlsFingerprint{{Algorithm: "md5", Value: "AA"}}},
		"empty value":     {Fingerprints: []engine.DtlsFingerprint{{Algorithm: "sha-256"}}},
		"bad role":        {Role: "peer", Fingerprints: []engine.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA"}}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, tr.Connect(ctx, p), engine.ErrInvalidDtls)
		})
	}

	require.NoError(t, tr.Connect(ctx, enginetest.Dtls()))
	require.ErrorIs(t, tr.Connect(ctx, enginetest.Dtls()), engine.ErrAlreadyConnected)

	require.NoError(t, tr.Close())
	other := addTransport(r, "t2")
	require.NoError(t, other.Close())
	require.ErrorIs(t, other.Connect(ctx, enginetest.Dtls()), engine.ErrTransportClosed)
}

func TestProduceConsume(t *testing.T) {
	r := newTestRouter(t)
	send := addTransport(r, "send")
	recv := addTransport(r, "recv")
	ctx := context.Background()

	p, err := send.Produce(ctx, engine.ProducerOptions{Kind: engine.MediaKindAudio, RtpParameters: enginetest.OpusParameters()})
	require.NoError(t, err)
	assert.Equal(t, engine.MediaKindAudio, p.Kind())

	assert.True(t, r.CanConsume(p.ID(), r.RtpCapabilities()))
	assert.False(t, r.CanConsume("nope", r.RtpCapabilities()))

	c, err := recv.Consume(ctx, engine.ConsumerOptions{ProducerId: p.ID(), RtpCapabilities: r.RtpCapabilities(), Paused: true})
	require.NoError(t, err)
	assert.Equal(t, p.ID(), c.ProducerID())
	assert.True(t, c.Paused())
	require.Len(t, c.RtpParameters().Encodings, 1)
	assert.NotZero(t, c.RtpParameters().Encodings[0].Ssrc)

	require.NoError(t, c.Resume(ctx))
	assert.False(t, c.Paused())

	_, err = recv.Consume(ctx, engine.ConsumerOptions{ProducerId: "nope", RtpCapabilities: r.RtpCapabilities()})
	require.ErrorIs(t, err, engine.ErrProducerNotFound)

	videoOnly := engine.RtpCapabilities{Codecs: []engine.RtpCodecCapability{{Kind: engine.MediaKindVideo, MimeType: "video/VP8", ClockRate: 90000}}}
	_, err = recv.Consume(ctx, engine.ConsumerOptions{ProducerId: p.ID(), RtpCapabilities: videoOnly})
	require.ErrorIs(t, err, engine.ErrCannotConsume)
}

func TestProduceRejectsUnknownCodec(t *testing.T) {
	r := newTestRouter(t)
	tr := addTransport(r, "send")
	params := enginetest.OpusParameters()
	params.Codecs[0].MimeType = "audio/G722"
	params.Codecs[0].ClockRate = 8000

	_, err := tr.Produce(context.Background(), engine.ProducerOptions{Kind: engine.MediaKindAudio, RtpParameters: params})
	require.ErrorIs(t, err, engine.ErrUnsupportedCodec)
}

func TestCloseCascades(t *testing.T) {
	r := newTestRouter(t)
	send := addTransport(r, "send")
	recv := addTransport(r, "recv")
	ctx := context.Background()

	p, err := send.Produce(ctx, engine.ProducerOptions{Kind: engine.MediaKindAudio, RtpParameters: enginetest.OpusParameters()})
	require.NoError(t, err)
	c, err := recv.Consume(ctx, engine.ConsumerOptions{ProducerId: p.ID(), RtpCapabilities: r.RtpCapabilities()})
	require.NoError(t, err)

	require.NoError(t, send.Close())
	assert.True(t, c.(*Consumer).closed.Load(), "consumer follows its producer")
	require.ErrorIs(t, c.Resume(ctx), engine.ErrConsumerClosed)
	_, ok := r.producer(p.ID())
	assert.False(t, ok)
	assert.Empty(t, recv.consumers)
	assert.NotContains(t, r.transports, "send")

	require.NoError(t, send.Close(), "second close is a no-op")

	require.NoError(t, r.Close())
	assert.Empty(t, r.transports)
	_, err = r.CreateWebRtcTransport(ctx, engine.WebRtcTransportOptions{})
	require.ErrorIs(t, err, engine.ErrRouterClosed)
}

func TestSelectCandidates(t *testing.T) {
	gathered := []webrtc.ICECandidate{
		{Foundation: "1", Priority: 100, Address: "10.0.0.5", Protocol: webrtc.ICEProtocolTCP, Port: 4443, Typ: webrtc.ICECandidateTypeHost, TCPType: "passive"},
		{Foundation: "2", Priority: 200, Address: "10.0.0.5", Protocol: webrtc.ICEProtocolUDP, Port: 10001, Typ: webrtc.ICECandidateTypeHost},
	}

	got := selectCandidates(gathered, engine.WebRtcTransportOptions{EnableUdp: true})
	require.Len(t, got, 1)
	assert.Equal(t, "udp", got[0].Protocol)

	got = selectCandidates(gathered, engine.WebRtcTransportOptions{
		ListenInfos: []engine.ListenInfo{{Ip: "0.0.0.0", AnnouncedIp: "203.0.113.7"}},
		EnableUdp:   true,
		EnableTcp:   true,
		PreferUdp:   true,
	})
	require.Len(t, got, 2)
	assert.Equal(t, "udp", got[0].Protocol)
	assert.Equal(t, "tcp", got[1].Protocol)
	assert.Equal(t, "passive", got[1].TcpType)
	for _, c := range got {
		assert.Equal(t, "203.0.113.7", c.Ip)
		assert.Equal(t, "203.0.113.7", c.Address)
		assert.Equal(t, "host", c.Type)
	}

	assert.Empty(t, selectCandidates(gathered, engine.WebRtcTransportOptions{}))
}

func TestConvertDtlsParameters(t *testing.T) {
	got := dtlsParameters(webrtc.DTLSParameters{
		Role:         webrtc.DTLSRoleAuto,
		Fingerprints: []webrtc.DTLSFingerprint{{Algorithm: "sha-256", Value: "AB:CD"}},
	})
	assert.Equal(t, engine.DtlsRoleAuto, got.Role)
	assert.Equal(t, []engine.DtlsFingerprint{{Algorithm: "sha-256", Value: "AB:CD"}}, got.Fingerprints)

	got = dtlsParameters(webrtc.DTLSParameters{Role: webrtc.DTLSRoleServer})
	assert.Equal(t, engine.DtlsRoleServer, got.Role)
	assert.NotNil(t, got.Fingerprints)

	ice := iceParameters(webrtc.ICEParameters{UsernameFragment: "u", Password: "p", ICELite: true})
	assert.Equal(t, engine.IceParameters{UsernameFragment: "u", Password: "p", IceLite: true}, ice)
}

func TestApplyNetworkSettings(t *testing.T) {
	var se webrtc.SettingEngine
	ln, err := ApplyNetworkSettings(&se, config.RTCConfig{ListenIP: "0.0.0.0", UDPPortMin: 10000, UDPPortMax: 10100, EnableUDP: true})
	require.NoError(t, err)
	assert.Nil(t, ln)

	_, err = ApplyNetworkSettings(&se, config.RTCConfig{UDPPortMin: 20000, UDPPortMax: 10000, EnableUDP: true})
	require.Error(t, err)

	_, err = ApplyNetworkSettings(&se, config.RTCConfig{ListenIP: "not-an-ip", EnableUDP: true})
	require.Error(t, err)

	ln, err = ApplyNetworkSettings(&se, config.RTCConfig{ListenIP: "127.0.0.1", EnableUDP: true, EnableTCP: true})
	require.NoError(t, err)
	require.NotNil(t, ln)
	require.NoError(t, ln.Close())
}

func TestWorkerCreateRouter(t *testing.T) {
	w, err := NewWorker(config.RTCConfig{ListenIP: "127.0.0.1", UDPPortMin: 40000, UDPPortMax: 40010, EnableUDP: true})
	require.NoError(t, err)

	r, err := w.CreateRouter(context.Background(), engine.RouterOptions{MediaCodecs: enginetest.DefaultCodecs()})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID())
	assert.Len(t, r.RtpCapabilities().Codecs, 2)

	_, err = w.CreateRouter(context.Background(), engine.RouterOptions{MediaCodecs: []engine.RtpCodecCapability{{Kind: "data", MimeType: "x/y"}}})
	require.Error(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, err = w.CreateRouter(context.Background(), engine.RouterOptions{MediaCodecs: enginetest.DefaultCodecs()})
	require.ErrorIs(t, err, engine.ErrRouterClosed)
}
