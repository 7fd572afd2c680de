package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/proxguard/backend/internal/models"
)

// RemoteProvider queries an ip-api.com compatible HTTP endpoint. It is the
// last resolution tier and always sits behind the provider gate.
type RemoteProvider struct {
	baseURL string
	client  *http.Client
}

func NewRemoteProvider(baseURL string) *RemoteProvider {
	return &RemoteProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type providerResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	AS          string  `json:"as"`
	Mobile      bool    `json:"mobile"`
	Proxy       bool    `json:"proxy"`
	Hosting     bool    `json:"hosting"`
}

// Fetch looks up one IP against the remote provider.
func (p *RemoteProvider) Fetch(ctx context.Context, ip string) (*models.IPMetadata, error) {
	url := fmt.Sprintf("%s/%s?fields=status,message,country,countryCode,regionName,city,lat,lon,timezone,as,mobile,proxy,hosting", p.baseURL, ip)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var body providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("provider response decode failed: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("provider lookup failed: %s", body.Message)
	}

	asn, asnOrg := parseASField(body.AS)
	return &models.IPMetadata{
		IPAddress:   ip,
		CountryCode: body.CountryCode,
		Country:     body.Country,
		Region:      body.RegionName,
		City:        body.City,
		Latitude:    body.Lat,
		Longitude:   body.Lon,
		Timezone:    body.Timezone,
		ASN:         asn,
		ASNOrg:      asnOrg,
		IsProxy:     body.Proxy,
		IsHosting:   body.Hosting,
		IsMobile:    body.Mobile,
	}, nil
}

// parseASField splits the provider's "AS13335 Cloudflare, Inc." format.
func parseASField(as string) (int, string) {
	as = strings.TrimSpace(as)
	if as == "" {
		return 0, ""
	}
	parts := strings.SplitN(as, " ", 2)
	num := strings.TrimPrefix(parts[0], "AS")
	asn, err := strconv.Atoi(num)
	if err != nil {
		return 0, as
	}
	if len(parts) == 2 {
		return asn, strings.TrimSpace(parts[1])
	}
	return asn, ""
}
