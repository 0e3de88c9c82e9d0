package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultCodecs() []RtpCodecCapability {
	return []RtpCodecCapability{
		{Kind: MediaKindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: MediaKindVideo, MimeType: "video/VP8", ClockRate: 90000, Parameters: map[string]any{"x-google-start-bitrate": 1000}},
	}
}

func routerCaps(t *testing.T) RtpCapabilities {
	t.Helper()
	caps, err := GenerateRouterRtpCapabilities(defaultCodecs())
	require.NoError(t, err)
	return caps
}

func opusParams() RtpParameters {
	return RtpParameters{
		Mid:       "0",
		Codecs:    []RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
		Encodings: []RtpEncodingParameters{{Ssrc: 1111}},
		Rtcp:      &RtcpParameters{Cname: "abc"},
	}
}

func TestGenerateRouterRtpCapabilities(t *testing.T) {
	caps := routerCaps(t)
	require.Len(t, caps.Codecs, 2)

	opus := caps.Codecs[0]
	assert.Equal(t, uint8(100), opus.PreferredPayloadType)
	assert.Equal(t, uint8(2), opus.Channels)
	assert.Contains(t, opus.RtcpFeedback, RtcpFeedback{Type: "transport-cc"})

	vp8 := caps.Codecs[1]
	assert.Equal(t, uint8(101), vp8.PreferredPayloadType)
	assert.Equal(t, 1000, vp8.Parameters["x-google-start-bitrate"])
	assert.Contains(t, vp8.RtcpFeedback, RtcpFeedback{Type: "nack", Parameter: "pli"})
	assert.NotEmpty(t, caps.HeaderExtensions)
}

func TestGenerateRouterRtpCapabilities_Invalid(t *testing.T) {
	cases := map[string][]RtpCodecCapability{
		"empty":     nil,
		"bad kind":  {{Kind: "data", MimeType: "data/x", ClockRate: 1}},
		"kind mime": {{Kind: MediaKindAudio, MimeType: "video/VP8", ClockRate: 90000}},
		"no clock":  {{Kind: MediaKindAudio, MimeType: "audio/opus"}},
	}
	for name, codecs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := GenerateRouterRtpCapabilities(codecs)
			require.ErrorIs(t, err, ErrUnsupportedCodec)
		})
	}
}

func TestGenerateRouterRtpCapabilities_KeepsPreferredPayloadType(t *testing.T) {
	codecs := defaultCodecs()
	codecs[1].PreferredPayloadType = 100
	caps, err := GenerateRouterRtpCapabilities(codecs)
	require.NoError(t, err)
	assert.Equal(t, uint8(101), caps.Codecs[0].PreferredPayloadType)
	assert.Equal(t, uint8(100), caps.Codecs[1].PreferredPayloadType)
}

func TestValidateRtpParameters(t *testing.T) {
	require.NoError(t, ValidateRtpParameters(MediaKindAudio, opusParams()))
	require.Error(t, ValidateRtpParameters("data", opusParams()))
	require.Error(t, ValidateRtpParameters(MediaKindVideo, opusParams()))
	require.Error(t, ValidateRtpParameters(MediaKindAudio, RtpParameters{}))
}

func TestConsumableRtpParameters_UsesRouterPayloadTypes(t *testing.T) {
	caps := routerCaps(t)
	cp, err := ConsumableRtpParameters(MediaKindAudio, opusParams(), caps)
	require.NoError(t, err)

	require.Len(t, cp.Codecs, 1)
	assert.Equal(t, uint8(100), cp.Codecs[0].PayloadType)
	assert.Equal(t, "abc", cp.Rtcp.Cname)
	require.Len(t, cp.Encodings, 1)
	assert.Equal(t, uint32(1111), cp.Encodings[0].Ssrc)
	for _, ext := range cp.HeaderExtensions {
		assert.NotContains(t, ext.Uri, "transport-wide-cc")
	}
}

func TestConsumableRtpParameters_Unsupported(t *testing.T) {
	p := RtpParameters{Codecs: []RtpCodecParameters{{MimeType: "audio/PCMU", PayloadType: 0, ClockRate: 8000}}}
	_, err := ConsumableRtpParameters(MediaKindAudio, p, routerCaps(t))
	require.True(t, errors.Is(err, ErrUnsupportedCodec))
}

func TestCanConsume(t *testing.T) {
	caps := routerCaps(t)
	cp, err := ConsumableRtpParameters(MediaKindAudio, opusParams(), caps)
	require.NoError(t, err)

	assert.True(t, CanConsume(cp, caps))
	assert.True(t, CanConsume(cp, RtpCapabilities{Codecs: []RtpCodecCapability{
		{Kind: MediaKindAudio, MimeType: "AUDIO/OPUS", ClockRate: 48000, Channels: 2},
	}}))

	vp8Only := RtpCapabilities{Codecs: []RtpCodecCapability{{Kind: MediaKindVideo, MimeType: "video/VP8", ClockRate: 90000}}}
	assert.False(t, CanConsume(cp, vp8Only))

	mono := RtpCapabilities{Codecs: []RtpCodecCapability{{Kind: MediaKindAudio, MimeType: "audio/opus", ClockRate: 48000}}}
	assert.False(t, CanConsume(cp, mono))
}

func TestConsumerRtpParameters(t *testing.T) {
	caps := routerCaps(t)
	cp, err := ConsumableRtpParameters(MediaKindAudio, opusParams(), caps)
	require.NoError(t, err)

	client := RtpCapabilities{
		Codecs: []RtpCodecCapability{{
			Kind: MediaKindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PreferredPayloadType: 100,
			RtcpFeedback: []RtcpFeedback{{Type: "transport-cc"}, {Type: "nack"}},
		}},
		HeaderExtensions: []RtpHeaderExtension{{Kind: MediaKindAudio, Uri: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredId: 1}},
	}
	p, err := ConsumerRtpParameters(cp, client, 4242)
	require.NoError(t, err)

	require.Len(t, p.Codecs, 1)
	assert.Equal(t, []RtcpFeedback{{Type: "transport-cc"}}, p.Codecs[0].RtcpFeedback)
	require.Len(t, p.HeaderExtensions, 1)
	assert.Equal(t, "urn:ietf:params:rtp-hdrext:sdes:mid", p.HeaderExtensions[0].Uri)
	assert.Equal(t, []RtpEncodingParameters{{Ssrc: 4242}}, p.Encodings)
	assert.Equal(t, "abc", p.Rtcp.Cname)

	_, err = ConsumerRtpParameters(cp, RtpCapabilities{}, 1)
	require.ErrorIs(t, err, ErrCannotConsume)
}
