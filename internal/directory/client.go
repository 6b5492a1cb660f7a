package directory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rawblock/torpath-engine/pkg/models"
)

// Relay Directory Client
//
// Fetches relay descriptors from an Onionoo-compatible directory mirror
// (the public TOR metrics "details" document, or an internal mirror of
// it). The engine consumes a read-only snapshot; it never publishes or
// modifies directory state.
//
// Sync failures are wrapped in SyncError and propagated — the engine
// does not retry internally, so stale-data conditions stay visible to
// the investigator instead of being papered over.

// SyncError wraps a failed directory fetch.
type SyncError struct {
	URL string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("directory sync failed (%s): %v", e.URL, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Config holds directory client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the directory mirror over HTTP.
type Client struct {
	http    *resty.Client
	baseURL string
}

// NewClient builds a directory client for the given mirror.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		baseURL: cfg.BaseURL,
	}
}

// detailsDocument is the subset of the Onionoo details schema we read.
type detailsDocument struct {
	Relays []relayDetails `json:"relays"`
}

type relayDetails struct {
	Fingerprint         string   `json:"fingerprint"`
	Nickname            string   `json:"nickname"`
	Country             string   `json:"country"`
	AS                  string   `json:"as"` // "AS24940"
	Flags               []string `json:"flags"`
	AdvertisedBandwidth int64    `json:"advertised_bandwidth"`
	Running             bool     `json:"running"`
	LastRestarted       string   `json:"last_restarted"`
	FirstSeen           string   `json:"first_seen"`
}

// SyncFromDirectory fetches the current relay set. Returns SyncError on
// any transport or decode failure.
func (c *Client) SyncFromDirectory(ctx context.Context) ([]*models.Relay, error) {
	var doc detailsDocument

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("type", "relay").
		SetQueryParam("running", "true").
		SetResult(&doc).
		Get("/details")
	if err != nil {
		return nil, &SyncError{URL: c.baseURL, Err: err}
	}
	if resp.IsError() {
		return nil, &SyncError{URL: c.baseURL, Err: fmt.Errorf("directory returned status %d", resp.StatusCode())}
	}

	now := time.Now().UTC()
	relays := make([]*models.Relay, 0, len(doc.Relays))
	for _, d := range doc.Relays {
		if d.Fingerprint == "" {
			continue
		}
		relays = append(relays, convertRelay(d, now))
	}
	return relays, nil
}

// convertRelay maps one directory entry onto the internal model.
func convertRelay(d relayDetails, now time.Time) *models.Relay {
	roles := models.RoleMiddle // every running relay can serve as middle hop
	for _, f := range d.Flags {
		switch f {
		case "Guard":
			roles |= models.RoleGuard
		case "Exit":
			roles |= models.RoleExit
		}
	}

	// The details document carries the current session only: last
	// restart to now. Historical intervals come from persisted syncs.
	up := now
	since := parseDirectoryTime(d.LastRestarted)
	if since.IsZero() {
		since = parseDirectoryTime(d.FirstSeen)
	}
	var uptime []models.UptimeInterval
	if !since.IsZero() {
		uptime = []models.UptimeInterval{{Start: since, End: up}}
	}

	return &models.Relay{
		Fingerprint: d.Fingerprint,
		Nickname:    d.Nickname,
		Country:     strings.ToLower(d.Country),
		ASN:         parseASN(d.AS),
		Roles:       roles,
		Bandwidth:   d.AdvertisedBandwidth,
		Uptime:      uptime,
	}
}

// parseASN extracts the number from an "AS24940" style string.
func parseASN(as string) int {
	s := strings.TrimPrefix(as, "AS")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// parseDirectoryTime handles the directory's "2006-01-02 15:04:05"
// timestamps, falling back to RFC3339.
func parseDirectoryTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
