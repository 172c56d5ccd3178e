package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityExtractor_NoTrustedProxies(t *testing.T) {
	e := NewIdentityExtractor(nil)

	id := e.Extract("203.0.113.5:4312", "1.1.1.1", "")
	assert.Equal(t, "203.0.113.5", id.IP)
	assert.Equal(t, "ip:203.0.113.5", id.Key())
	assert.Equal(t, "203.0.113.5", id.RateKey())

	assert.Equal(t, "2001:db8::1", e.Extract("[2001:db8::1]:443", "", "").IP)
	assert.Equal(t, UnknownIP, e.Extract("", "", "").IP)
	assert.Equal(t, "10.0.0.1", e.Extract("10.0.0.1", "", "").IP)
}

func TestIdentityExtractor_TrustedProxies(t *testing.T) {
	e := NewIdentityExtractor([]string{"10.0.0.0/8", "192.0.2.10", "not-a-cidr"})

	// Right-most untrusted hop wins.
	id := e.Extract("10.1.1.1:80", "198.51.100.7, 203.0.113.9, 10.2.2.2", "")
	assert.Equal(t, "203.0.113.9", id.IP)

	assert.Equal(t, "198.51.100.7", e.Extract("192.0.2.10:80", "198.51.100.7", "").IP)

	// Header from an untrusted peer is ignored.
	assert.Equal(t, "203.0.113.1", e.Extract("203.0.113.1:80", "198.51.100.7", "").IP)

	// All hops trusted or garbage: fall back to the peer.
	assert.Equal(t, "10.1.1.1", e.Extract("10.1.1.1:80", "garbage, 10.3.3.3", "").IP)
}

func TestClientIdentity_Key(t *testing.T) {
	id := ClientIdentity{IP: "10.0.0.1", UserID: "12"}
	assert.Equal(t, "u:12", id.Key())
	assert.Equal(t, "10.0.0.1", id.RateKey())
}

func TestAddressList(t *testing.T) {
	l := NewAddressList([]string{"203.0.113.0/24", "2001:db8::/32", "198.51.100.7", " "})
	assert.Equal(t, 3, l.Len())
	assert.True(t, l.Contains("203.0.113.99"))
	assert.True(t, l.Contains("2001:db8::5"))
	assert.True(t, l.Contains("198.51.100.7"))
	assert.False(t, l.Contains("198.51.100.8"))
	assert.False(t, l.Contains(UnknownIP))

	var empty *AddressList
	assert.False(t, empty.Contains("1.2.3.4"))
	assert.Equal(t, 0, empty.Len())
}
