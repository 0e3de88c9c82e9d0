package engine

import (
	"fmt"
	"strings"
)

const firstDynamicPayloadType = 100

var (
	audioFeedback = []RtcpFeedback{{Type: "transport-cc"}}
	videoFeedback = []RtcpFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "goog-remb"},
		{Type: "transport-cc"},
	}

	supportedHeaderExtensions = []RtpHeaderExtension{
		{Kind: MediaKindAudio, Uri: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredId: 1, Direction: "sendrecv"},
		{Kind: MediaKindVideo, Uri: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredId: 1, Direction: "sendrecv"},
		{Kind: MediaKindAudio, Uri: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredId: 4, Direction: "sendrecv"},
		{Kind: MediaKindVideo, Uri: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredId: 4, Direction: "sendrecv"},
		{Kind: MediaKindVideo, Uri: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01", PreferredId: 5, Direction: "sendrecv"},
		{Kind: MediaKindAudio, Uri: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredId: 10, Direction: "sendrecv"},
	}
)

// GenerateRouterRtpCapabilities validates the configured media codecs and
// fills in payload types, channel counts and RTCP feedback.
func GenerateRouterRtpCapabilities(mediaCodecs []RtpCodecCapability) (RtpCapabilities, error) {
	if len(mediaCodecs) == 0 {
		return RtpCapabilities{}, fmt.Errorf("%w: no media codecs", ErrUnsupportedCodec)
	}
	used := make(map[uint8]bool)
	for _, c := range mediaCodecs {
		if c.PreferredPayloadType != 0 {
			used[c.PreferredPayloadType] = true
		}
	}
	next := uint8(firstDynamicPayloadType)
	caps := RtpCapabilities{}
	for _, c := range mediaCodecs {
		if !c.Kind.Valid() {
			return RtpCapabilities{}, fmt.Errorf("%w: invalid kind %q", ErrUnsupportedCodec, c.Kind)
		}
		if !strings.HasPrefix(strings.ToLower(c.MimeType), string(c.Kind)+"/") {
			return RtpCapabilities{}, fmt.Errorf("%w: mimeType %q does not match kind %q", ErrUnsupportedCodec, c.MimeType, c.Kind)
		}
		if c.ClockRate == 0 {
			return RtpCapabilities{}, fmt.Errorf("%w: %s has no clockRate", ErrUnsupportedCodec, c.MimeType)
		}
		out := c
		if out.Kind == MediaKindAudio && out.Channels == 0 {
			out.Channels = 1
		}
		if out.Kind == MediaKindVideo {
			out.Channels = 0
		}
		if out.PreferredPayloadType == 0 {
			for used[next] {
				next++
			}
			if next > 127 {
				return RtpCapabilities{}, fmt.Errorf("%w: out of dynamic payload types", ErrUnsupportedCodec)
			}
			out.PreferredPayloadType = next
			used[next] = true
		}
		if len(out.RtcpFeedback) == 0 {
			if out.Kind == MediaKindAudio {
				out.RtcpFeedback = append([]RtcpFeedback(nil), audioFeedback...)
			} else {
				out.RtcpFeedback = append([]RtcpFeedback(nil), videoFeedback...)
			}
		}
		if c.Parameters != nil {
			out.Parameters = make(map[string]any, len(c.Parameters))
			for k, v := range c.Parameters {
				out.Parameters[k] = v
			}
		}
		caps.Codecs = append(caps.Codecs, out)
	}
	caps.HeaderExtensions = append([]RtpHeaderExtension(nil), supportedHeaderExtensions...)
	return caps, nil
}

func isRtx(mimeType string) bool {
	return strings.HasSuffix(strings.ToLower(mimeType), "/rtx")
}

func normChannels(mimeType string, ch uint8) uint8 {
	if strings.HasPrefix(strings.ToLower(mimeType), "audio/") && ch == 0 {
		return 1
	}
	return ch
}

func codecsMatch(mimeA string, clockA uint32, chA uint8, mimeB string, clockB uint32, chB uint8) bool {
	if !strings.EqualFold(mimeA, mimeB) || clockA != clockB {
		return false
	}
	return normChannels(mimeA, chA) == normChannels(mimeB, chB)
}

// ValidateRtpParameters checks what a producer sends before the engine sees it.
func ValidateRtpParameters(kind MediaKind, p RtpParameters) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid kind %q", kind)
	}
	if len(p.Codecs) == 0 {
		return fmt.Errorf("rtpParameters: no codecs")
	}
	for i, c := range p.Codecs {
		if c.MimeType == "" || c.ClockRate == 0 {
			return fmt.Errorf("rtpParameters: codecs[%d] needs mimeType and clockRate", i)
		}
		if !isRtx(c.MimeType) && !strings.HasPrefix(strings.ToLower(c.MimeType), string(kind)+"/") {
			return fmt.Errorf("rtpParameters: codecs[%d] %s is not %s", i, c.MimeType, kind)
		}
	}
	return nil
}

// ConsumableRtpParameters maps the producer's codecs onto the router's
// payload types. The result is what every consumer of the producer is cut from.
func ConsumableRtpParameters(kind MediaKind, params RtpParameters, caps RtpCapabilities) (RtpParameters, error) {
	out := RtpParameters{}
	for _, pc := range params.Codecs {
		if isRtx(pc.MimeType) {
			continue
		}
		for _, rc := range caps.Codecs {
			if rc.Kind != kind {
				continue
			}
			if !codecsMatch(pc.MimeType, pc.ClockRate, pc.Channels, rc.MimeType, rc.ClockRate, rc.Channels) {
				continue
			}
			out.Codecs = append(out.Codecs, RtpCodecParameters{
				MimeType:     rc.MimeType,
				PayloadType:  rc.PreferredPayloadType,
				ClockRate:    rc.ClockRate,
				Channels:     rc.Channels,
				Parameters:   pc.Parameters,
				RtcpFeedback: rc.RtcpFeedback,
			})
			break
		}
	}
	if len(out.Codecs) == 0 {
		return RtpParameters{}, fmt.Errorf("%w: no producer codec is supported by the router", ErrUnsupportedCodec)
	}
	for _, ext := range caps.HeaderExtensions {
		if ext.Kind != kind {
			continue
		}
		out.HeaderExtensions = append(out.HeaderExtensions, RtpHeaderExtensionParameters{Uri: ext.Uri, Id: ext.PreferredId})
	}
	for _, enc := range params.Encodings {
		out.Encodings = append(out.Encodings, RtpEncodingParameters{
			Ssrc:            enc.Ssrc,
			Rid:             enc.Rid,
			Dtx:             enc.Dtx,
			ScalabilityMode: enc.ScalabilityMode,
			MaxBitrate:      enc.MaxBitrate,
		})
	}
	if params.Rtcp != nil {
		out.Rtcp = &RtcpParameters{Cname: params.Rtcp.Cname}
	}
	return out, nil
}

// CanConsume reports whether any consumable codec is in caps.
func CanConsume(consumable RtpParameters, caps RtpCapabilities) bool {
	for _, c := range consumable.Codecs {
		for _, cc := range caps.Codecs {
			if codecsMatch(c.MimeType, c.ClockRate, c.Channels, cc.MimeType, cc.ClockRate, cc.Channels) {
				return true
			}
		}
	}
	return false
}

// ConsumerRtpParameters narrows consumable parameters to the consumer's
// capabilities and gives the stream its own SSRC.
func ConsumerRtpParameters(consumable RtpParameters, caps RtpCapabilities, ssrc uint32) (RtpParameters, error) {
	out := RtpParameters{}
	for _, c := range consumable.Codecs {
		for _, cc := range caps.Codecs {
			if !codecsMatch(c.MimeType, c.ClockRate, c.Channels, cc.MimeType, cc.ClockRate, cc.Channels) {
				continue
			}
			codec := c
			codec.RtcpFeedback = commonFeedback(c.RtcpFeedback, cc.RtcpFeedback)
			out.Codecs = append(out.Codecs, codec)
			break
		}
	}
	if len(out.Codecs) == 0 {
		return RtpParameters{}, ErrCannotConsume
	}
	for _, ext := range consumable.HeaderExtensions {
		for _, ce := range caps.HeaderExtensions {
			if ce.Uri == ext.Uri {
				out.HeaderExtensions = append(out.HeaderExtensions, ext)
				break
			}
		}
	}
	out.Encodings = []RtpEncodingParameters{{Ssrc: ssrc}}
	reduced := true
	out.Rtcp = &RtcpParameters{ReducedSize: &reduced}
	if consumable.Rtcp != nil {
		out.Rtcp.Cname = consumable.Rtcp.Cname
	}
	return out, nil
}

func commonFeedback(a, b []RtcpFeedback) []RtcpFeedback {
	var out []RtcpFeedback
	for _, fa := range a {
		for _, fb := range b {
			if fa == fb {
				out = append(out, fa)
				break
			}
		}
	}
	return out
}
