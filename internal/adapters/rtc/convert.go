package rtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Relay/internal/engine"
)

func iceParameters(p webrtc.ICEParameters) engine.IceParameters {
	return engine.IceParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		IceLite:          p.ICELite,
	}
}

func iceCandidate(c webrtc.ICECandidate) engine.IceCandidate {
	return engine.IceCandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		Ip:         c.Address,
		Address:    c.Address,
		Protocol:   c.Protocol.String(),
		Port:       c.Port,
		Type:       c.Typ.String(),
		TcpType:    c.TCPType,
	}
}

func dtlsParameters(p webrtc.DTLSParameters) engine.DtlsParameters {
	out := engine.DtlsParameters{
		Role:         engine.DtlsRoleAuto,
		Fingerprints: make([]engine.DtlsFingerprint, 0, len(p.Fingerprints)),
	}
	switch p.Role {
	case webrtc.DTLSRoleClient:
		out.Role = engine.DtlsRoleClient
	case webrtc.DTLSRoleServer:
		out.Role = engine.DtlsRoleServer
	}
	for _, fp := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, engine.DtlsFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return out
}
