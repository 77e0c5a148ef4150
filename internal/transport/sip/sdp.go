package sip

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrNoCommonCodec is returned when an offer contains no G.711 audio stream.
var ErrNoCommonCodec = errors.New("sip: no common audio codec in offer")

// codec is a G.711 RTP payload format.
type codec struct {
	PayloadType uint8
	Name        string
	Encoding    audio.Encoding
}

// Static payload types from RFC 3551, in our order of preference.
var codecs = []codec{
	{PayloadType: 0, Name: "PCMU", Encoding: audio.EncodingMuLaw},
	{PayloadType: 8, Name: "PCMA", Encoding: audio.EncodingALaw},
}

// clockRate is the G.711 sample rate.
const clockRate = 8000

func (c codec) format() audio.WireFormat {
	return audio.WireFormat{Encoding: c.Encoding, SampleRate: clockRate}
}

// offer is what we need from a caller's SDP.
type offer struct {
	Remote *net.UDPAddr
	Codec  codec
}

// parseOffer extracts the first audio stream from body and picks the first
// G.711 format the caller lists.
func parseOffer(body []byte) (offer, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return offer{}, fmt.Errorf("sip: parse sdp: %w", err)
	}
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" || md.MediaName.Port.Value == 0 {
			continue
		}
		ci := md.ConnectionInformation
		if ci == nil {
			ci = sd.ConnectionInformation
		}
		if ci == nil || ci.Address == nil {
			return offer{}, errors.New("sip: sdp has no connection address")
		}
		ip := net.ParseIP(ci.Address.Address)
		if ip == nil {
			return offer{}, fmt.Errorf("sip: sdp connection address %q is not an IP", ci.Address.Address)
		}

		for _, f := range md.MediaName.Formats {
			pt, err := strconv.Atoi(f)
			if err != nil {
				continue
			}
			i := slices.IndexFunc(codecs, func(c codec) bool { return int(c.PayloadType) == pt })
			if i < 0 {
				continue
			}
			return offer{
				Remote: &net.UDPAddr{IP: ip, Port: md.MediaName.Port.Value},
				Codec:  codecs[i],
			}, nil
		}
	}
	return offer{}, ErrNoCommonCodec
}

// buildAnswer returns an SDP answer accepting c on ip:port.
func buildAnswer(ip string, port int, c codec, frameMs int) ([]byte, error) {
	now := uint64(time.Now().Unix())
	conn := &sdp.ConnectionInformation{
		NetworkType: "IN",
		AddressType: addressType(ip),
		Address:     &sdp.Address{Address: ip},
	}
	pt := strconv.Itoa(int(c.PayloadType))
	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "parley",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    addressType(ip),
			UnicastAddress: ip,
		},
		SessionName:           "parley",
		ConnectionInformation: conn,
		TimeDescriptions:      []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{pt},
			},
			Attributes: []sdp.Attribute{
				{Key: "rtpmap", Value: fmt.Sprintf("%s %s/%d", pt, c.Name, clockRate)},
				{Key: "ptime", Value: strconv.Itoa(frameMs)},
				{Key: "sendrecv"},
			},
		}},
	}
	b, err := sd.Marshal()
	if err != nil {
		return nil, fmt.Errorf("sip: marshal sdp: %w", err)
	}
	return b, nil
}

func addressType(ip string) string {
	if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() == nil {
		return "IP6"
	}
	return "IP4"
}
