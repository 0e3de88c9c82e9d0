package engine

// The JSON shapes below match what mediasoup-client sends and expects, so
// browser payloads decode without translation.

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindVideo
}

type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type RtpCodecCapability struct {
	Kind                 MediaKind      `json:"kind"`
	MimeType             string         `json:"mimeType"`
	PreferredPayloadType uint8          `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32         `json:"clockRate"`
	Channels             uint8          `json:"channels,omitempty"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtension struct {
	Kind             MediaKind `json:"kind"`
	Uri              string    `json:"uri"`
	PreferredId      int       `json:"preferredId"`
	PreferredEncrypt bool      `json:"preferredEncrypt,omitempty"`
	Direction        string    `json:"direction,omitempty"`
}

type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs,omitempty"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

type RtpCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint8          `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtensionParameters struct {
	Uri     string `json:"uri"`
	Id      int    `json:"id"`
	Encrypt bool   `json:"encrypt,omitempty"`
}

type RtpEncodingRtx struct {
	Ssrc uint32 `json:"ssrc"`
}

type RtpEncodingParameters struct {
	Ssrc             uint32          `json:"ssrc,omitempty"`
	Rid              string          `json:"rid,omitempty"`
	CodecPayloadType *uint8          `json:"codecPayloadType,omitempty"`
	Rtx              *RtpEncodingRtx `json:"rtx,omitempty"`
	Dtx              bool            `json:"dtx,omitempty"`
	ScalabilityMode  string          `json:"scalabilityMode,omitempty"`
	MaxBitrate       uint32          `json:"maxBitrate,omitempty"`
}

type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize *bool  `json:"reducedSize,omitempty"`
}

type RtpParameters struct {
	Mid              string                         `json:"mid,omitempty"`
	Codecs           []RtpCodecParameters           `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []RtpEncodingParameters        `json:"encodings,omitempty"`
	Rtcp             *RtcpParameters                `json:"rtcp,omitempty"`
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Ip         string `json:"ip"`
	Address    string `json:"address"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TcpType    string `json:"tcpType,omitempty"`
}

type DtlsRole string

const (
	DtlsRoleAuto   DtlsRole = "auto"
	DtlsRoleClient DtlsRole = "client"
	DtlsRoleServer DtlsRole = "server"
)

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         DtlsRole          `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// ListenInfo is where a transport binds and what address it announces.
type ListenInfo struct {
	Ip          string `json:"ip"`
	AnnouncedIp string `json:"announcedIp,omitempty"`
}

type WebRtcTransportOptions struct {
	ListenInfos []ListenInfo
	EnableUdp   bool
	EnableTcp   bool
	PreferUdp   bool
	AppData     map[string]string
}

type ProducerOptions struct {
	Kind          MediaKind
	RtpParameters RtpParameters
	AppData       map[string]string
}

type ConsumerOptions struct {
	ProducerId      string
	RtpCapabilities RtpCapabilities
	Paused          bool
	AppData         map[string]string
}

type RouterOptions struct {
	MediaCodecs []RtpCodecCapability
}
