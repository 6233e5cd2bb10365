package sipua

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// BuildSDP creates the SDP body for an offer or answer. addr and port
// are the local RTP endpoint, codec is the payload type string ("0" for
// PCMU). hold marks the media sendonly, which is how the engine asks the
// remote party to stop sending while on hold.
func BuildSDP(addr string, port int, codec string, hold bool) ([]byte, error) {
	if codec == "" {
		codec = "0"
	}
	formats := []string{codec}

	sessionDesc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "webphone",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: "Webphone Audio Session",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address: &sdp.Address{
				Address: addr,
			},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{
				Timing: sdp.Timing{
					StartTime: 0,
					StopTime:  0,
				},
			},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: mediaAttributes(formats, hold),
			},
		},
	}

	body, err := sessionDesc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal SDP: %w", err)
	}
	return body, nil
}

// mediaAttributes returns the rtpmap, ptime, and direction attributes.
func mediaAttributes(formats []string, hold bool) []sdp.Attribute {
	rtpmapMap := map[string]string{
		"0":   "PCMU/8000",
		"8":   "PCMA/8000",
		"101": "telephone-event/8000",
	}

	attrs := []sdp.Attribute{}
	for _, format := range formats {
		if rtpmap, ok := rtpmapMap[format]; ok {
			attrs = append(attrs, sdp.Attribute{
				Key:   "rtpmap",
				Value: format + " " + rtpmap,
			})
		}
	}

	// 20ms frames - standard for VoIP
	attrs = append(attrs, sdp.Attribute{
		Key:   "ptime",
		Value: "20",
	})

	direction := "sendrecv"
	if hold {
		direction = "sendonly"
	}
	attrs = append(attrs, sdp.Attribute{
		Key: direction,
	})

	return attrs
}

// ParseRemoteMedia extracts the remote RTP endpoint from an SDP body.
func ParseRemoteMedia(body []byte) (string, int, error) {
	if len(body) == 0 {
		return "", 0, fmt.Errorf("empty SDP")
	}

	sdpObj := &sdp.SessionDescription{}
	if err := sdpObj.Unmarshal(body); err != nil {
		return "", 0, fmt.Errorf("parse SDP: %w", err)
	}

	if len(sdpObj.MediaDescriptions) == 0 {
		return "", 0, fmt.Errorf("no media in SDP")
	}

	media := sdpObj.MediaDescriptions[0]
	remotePort := media.MediaName.Port.Value

	var remoteAddr string
	if media.ConnectionInformation != nil && media.ConnectionInformation.Address != nil {
		remoteAddr = media.ConnectionInformation.Address.Address
	} else if sdpObj.ConnectionInformation != nil && sdpObj.ConnectionInformation.Address != nil {
		remoteAddr = sdpObj.ConnectionInformation.Address.Address
	}
	if remoteAddr == "" || remotePort == 0 {
		return "", 0, fmt.Errorf("no RTP endpoint in SDP")
	}

	return remoteAddr, remotePort, nil
}
