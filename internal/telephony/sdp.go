package telephony

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// Static payload types the gateway can answer with, in preference order.
var rtpmaps = map[string]string{
	"0":   "PCMU/8000",
	"8":   "PCMA/8000",
	"101": "telephone-event/8000",
}

var preferredFormats = []string{"0", "8", "101"}

var ErrNoAudio = errors.New("telephony: offer has no usable audio stream")

// ParseOffer extracts the caller's RTP address and payload formats from an SDP offer.
func ParseOffer(body []byte) (RTPAddress, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return RTPAddress{}, fmt.Errorf("%w: parse sdp: %w", ErrTelephony, err)
	}
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" || md.MediaName.Port.Value == 0 {
			continue
		}
		conn := md.ConnectionInformation
		if conn == nil {
			conn = sd.ConnectionInformation
		}
		if conn == nil || conn.Address == nil {
			return RTPAddress{}, ErrNoAudio
		}
		return RTPAddress{
			IP:      conn.Address.Address,
			Port:    md.MediaName.Port.Value,
			Formats: append([]string(nil), md.MediaName.Formats...),
		}, nil
	}
	return RTPAddress{}, ErrNoAudio
}

// NegotiateFormats keeps the offered formats we support, in our preference order.
func NegotiateFormats(offered []string) []string {
	set := make(map[string]struct{}, len(offered))
	for _, f := range offered {
		set[f] = struct{}{}
	}
	var out []string
	for _, f := range preferredFormats {
		if _, ok := set[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// BuildAnswer renders the SDP answer that points the caller at local.
func BuildAnswer(local RTPAddress, sessionID uint64) ([]byte, error) {
	if local.IP == "" || local.Port <= 0 {
		return nil, fmt.Errorf("%w: media endpoint has no address", ErrTelephony)
	}
	formats := local.Formats
	if len(formats) == 0 {
		formats = []string{"0", "101"}
	}

	addrType := "IP4"
	if strings.Contains(local.IP, ":") {
		addrType = "IP6"
	}

	attrs := make([]sdp.Attribute, 0, len(formats)+2)
	for _, f := range formats {
		if m, ok := rtpmaps[f]; ok {
			attrs = append(attrs, sdp.NewAttribute("rtpmap", f+" "+m))
		}
		if f == "101" {
			attrs = append(attrs, sdp.NewAttribute("fmtp", "101 0-16"))
		}
	}
	attrs = append(attrs, sdp.NewAttribute("ptime", "20"), sdp.NewPropertyAttribute("sendrecv"))

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: local.IP,
		},
		SessionName: "voice-gateway",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     &sdp.Address{Address: local.IP},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: local.Port},
				Protos:  []string{"RTP", "AVP"},
				Formats: formats,
			},
			Attributes: attrs,
		}},
	}
	return sd.Marshal()
}
