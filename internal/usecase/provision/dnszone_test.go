package provision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/migrahosting-alt/mpanel-sub000/internal/config"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/resource"
	"github.com/migrahosting-alt/mpanel-sub000/pkg/snowflake"
)

func TestValidDomain(t *testing.T) {
	tests := []struct {
		name   string
		domain string
		want   bool
	}{
		{"plain", "acme.test", true},
		{"subdomain", "mail.acme.test", true},
		{"hyphenated", "my-shop.example.com", true},

		{"empty", "", false},
		{"no tld", "acme", false},
		{"uppercase", "Acme.test", false},
		{"leading hyphen", "-acme.test", false},
		{"trailing dot", "acme.test.", false},
		{"underscore", "my_shop.test", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidDomain(tt.domain))
		})
	}
}

func TestInitialSerial(t *testing.T) {
	now := time.Date(2025, time.March, 7, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, int64(2025030701), InitialSerial(now))

	// Local times collapse to the UTC date.
	loc := time.FixedZone("UTC+12", 12*3600)
	late := time.Date(2025, time.January, 1, 2, 0, 0, 0, loc)
	assert.Equal(t, int64(2024123101), InitialSerial(late))
}

func TestBuildDefaultRecords(t *testing.T) {
	node, err := snowflake.NewNode()
	require.NoError(t, err)

	cfg := &config.Config{
		DNSPrimaryNS:   "ns1.mpanel.host",
		DNSSecondaryNS: "ns2.mpanel.host",
		DNSDefaultIP:   "203.0.113.10",
	}
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	zone := &resource.Zone{
		ID:       node.GenerateID(),
		TenantID: 7,
		Domain:   "acme.test",
		Serial:   InitialSerial(now),
	}

	records := buildDefaultRecords(node, zone, cfg, now)
	require.Len(t, records, 6)

	byKind := make(map[string][]resource.Record)
	for _, rec := range records {
		assert.Equal(t, zone.ID, rec.ZoneID)
		assert.Equal(t, zone.TenantID, rec.TenantID)
		assert.Equal(t, defaultRecordTTL, rec.TTL)
		byKind[rec.Kind] = append(byKind[rec.Kind], rec)
	}

	require.Len(t, byKind["SOA"], 1)
	soa := byKind["SOA"][0]
	assert.Equal(t, "acme.test", soa.Name)
	assert.Equal(t, "ns1.mpanel.host hostmaster.acme.test 2025060101 10800 3600 604800 3600", soa.Content)

	require.Len(t, byKind["NS"], 2)
	assert.Equal(t, "ns1.mpanel.host", byKind["NS"][0].Content)
	assert.Equal(t, "ns2.mpanel.host", byKind["NS"][1].Content)

	require.Len(t, byKind["A"], 1)
	assert.Equal(t, "acme.test", byKind["A"][0].Name)
	assert.Equal(t, "203.0.113.10", byKind["A"][0].Content)

	require.Len(t, byKind["CNAME"], 1)
	assert.Equal(t, "www.acme.test", byKind["CNAME"][0].Name)
	assert.Equal(t, "acme.test", byKind["CNAME"][0].Content)

	require.Len(t, byKind["MX"], 1)
	assert.Equal(t, "mail.acme.test", byKind["MX"][0].Content)
	assert.Equal(t, 10, byKind["MX"][0].Priority)
}
