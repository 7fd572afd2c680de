package geoip

import (
	"fmt"
	"log"
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/proxguard/backend/internal/models"
)

// MMDBSource resolves IPs against local MaxMind databases. Both readers are
// optional; a missing file just disables that half of the lookup.
type MMDBSource struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// OpenMMDB opens the configured city and ASN databases. Returns nil when
// neither path is set.
func OpenMMDB(cityPath, asnPath string) *MMDBSource {
	src := &MMDBSource{}

	if cityPath != "" {
		reader, err := geoip2.Open(cityPath)
		if err != nil {
			log.Printf("[GeoIP] Failed to open city MMDB %s: %v", cityPath, err)
		} else {
			src.city = reader
		}
	}
	if asnPath != "" {
		reader, err := geoip2.Open(asnPath)
		if err != nil {
			log.Printf("[GeoIP] Failed to open ASN MMDB %s: %v", asnPath, err)
		} else {
			src.asn = reader
		}
	}

	if src.city == nil && src.asn == nil {
		return nil
	}
	return src
}

// Lookup resolves an IP from the local databases. Returns nil when the IP
// is not present.
func (m *MMDBSource) Lookup(ip string) (*models.IPMetadata, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid ip address: %s", ip)
	}

	meta := &models.IPMetadata{IPAddress: ip}
	found := false

	if m.city != nil {
		record, err := m.city.City(parsed)
		if err == nil && record != nil && record.Country.IsoCode != "" {
			meta.CountryCode = record.Country.IsoCode
			meta.Country = record.Country.Names["en"]
			meta.City = record.City.Names["en"]
			if len(record.Subdivisions) > 0 {
				meta.Region = record.Subdivisions[0].Names["en"]
			}
			meta.Latitude = record.Location.Latitude
			meta.Longitude = record.Location.Longitude
			meta.Timezone = record.Location.TimeZone
			found = true
		}
	}

	if m.asn != nil {
		record, err := m.asn.ASN(parsed)
		if err == nil && record != nil && record.AutonomousSystemNumber > 0 {
			meta.ASN = int(record.AutonomousSystemNumber)
			meta.ASNOrg = record.AutonomousSystemOrganization
			found = true
		}
	}

	if !found {
		return nil, nil
	}
	return meta, nil
}

// Close releases the underlying readers.
func (m *MMDBSource) Close() {
	if m.city != nil {
		m.city.Close()
	}
	if m.asn != nil {
		m.asn.Close()
	}
}
