package telephony

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const offer = "v=0\r\n" +
	"o=alice 2890844526 2890844526 IN IP4 203.0.113.10\r\n" +
	"s=-\r\n" +
	"c=IN IP4 203.0.113.10\r\n" +
	"t=0 0\r\n" +
	"m=audio 49170 RTP/AVP 8 0 18 101\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:101 telephone-event/8000\r\n"

func TestParseOffer(t *testing.T) {
	addr, err := ParseOffer([]byte(offer))
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.10", addr.IP)
	assert.Equal(t, 49170, addr.Port)
	assert.Equal(t, []string{"8", "0", "18", "101"}, addr.Formats)
}

func TestParseOfferRejectsGarbage(t *testing.T) {
	_, err := ParseOffer([]byte("not sdp"))
	assert.Error(t, err)
}

func TestNegotiateFormats(t *testing.T) {
	assert.Equal(t, []string{"0", "8", "101"}, NegotiateFormats([]string{"8", "0", "18", "101"}))
	assert.Empty(t, NegotiateFormats([]string{"18"}))
}

func TestBuildAnswer(t *testing.T) {
	body, err := BuildAnswer(RTPAddress{IP: "198.51.100.5", Port: 40000, Formats: []string{"0", "101"}}, 42)
	require.NoError(t, err)
	s := string(body)
	assert.True(t, strings.Contains(s, "c=IN IP4 198.51.100.5"), s)
	assert.True(t, strings.Contains(s, "m=audio 40000 RTP/AVP 0 101"), s)
	assert.True(t, strings.Contains(s, "a=rtpmap:0 PCMU/8000"), s)
	assert.True(t, strings.Contains(s, "a=sendrecv"), s)

	back, err := ParseOffer(body)
	require.NoError(t, err)
	assert.Equal(t, 40000, back.Port)
}

func TestBuildAnswerNeedsAddress(t *testing.T) {
	_, err := BuildAnswer(RTPAddress{}, 1)
	assert.ErrorIs(t, err, ErrTelephony)
}
