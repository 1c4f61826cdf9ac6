package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"

	"github.com/skyline-signage/player-core/internal/playererr"
)

func readAll(resp *http.Response) ([]byte, error) {
	return io.ReadAll(resp.Body)
}

// RegisterRequest is the payload for the register() call (§4.1 table:
// "display identity, client type/version, screen size, xmr channel, public
// key").
type RegisterRequest struct {
	HardwareKey string `json:"hardwareKey"`
	ClientType  string `json:"clientType"`
	ClientVersion string `json:"clientVersion"`
	ScreenWidth int    `json:"screenWidth"`
	ScreenHeight int   `json:"screenHeight"`
	XMRChannel  string `json:"xmrChannel,omitempty"`
	PublicKey   string `json:"publicKey"`
}

// RegisterCode is the register() response's status code (§4.1).
type RegisterCode string

const (
	RegisterReady   RegisterCode = "READY"
	RegisterWaiting RegisterCode = "WAITING"
	RegisterError   RegisterCode = "ERROR"
)

// RegisterResponse is the parsed register() response (§4.1, §6).
type RegisterResponse struct {
	Code        RegisterCode   `json:"code"`
	Message     string         `json:"message"`
	Settings    map[string]any `json:"settings"`
	Tags        []string       `json:"tags"`
	Commands    []string       `json:"commands"`
	DisplayAttrs map[string]any `json:"displayAttrs"`
	SyncConfig  *SyncConfig    `json:"syncConfig,omitempty"`

	// Token/ExpiresIn are populated only under the v2 auth mode.
	Token     string `json:"token,omitempty"`
	ExpiresIn int    `json:"expiresIn,omitempty"`
}

// SyncConfig carries the optional multi-display sync coordinator settings
// from register() (§2 "optional", §9).
type SyncConfig struct {
	GroupID string   `json:"groupId"`
	Peers   []string `json:"peers"`
}

// Register performs the register() call and feeds the response back into
// the Authenticator so a v2 token is picked up immediately.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	body, _, err := c.do(ctx, requestOpts{
		method:   http.MethodPost,
		path:     "/register",
		jsonBody: req,
		opName:   "register",
	})
	if err != nil {
		return nil, err
	}
	var out RegisterResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, playererr.Wrap(playererr.Protocol, "transport.register", "malformed register response", err)
	}
	c.auth.OnRegister(&out)
	return &out, nil
}

// RequiredFile is one entry of the requiredFiles() response (§3 "File
// identity").
type RequiredFile struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	Size        int64  `json:"size"`
	MD5         string `json:"md5"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

// RequiredFilesResponse is the parsed requiredFiles() response (§4.1).
type RequiredFilesResponse struct {
	Files []RequiredFile `json:"files"`
	Purge []string       `json:"purge"`
}

// RequiredFiles fetches the current required-files manifest, honouring the
// ETag cache on a 304 (§4.1 "cache-hit (304) returns last parsed body").
func (c *Client) RequiredFiles(ctx context.Context) (*RequiredFilesResponse, error) {
	body, _, err := c.do(ctx, requestOpts{
		method:    http.MethodGet,
		path:      "/requiredFiles",
		etagCache: true,
		opName:    "requiredFiles",
	})
	if err != nil {
		return nil, err
	}
	var out RequiredFilesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, playererr.Wrap(playererr.Protocol, "transport.requiredFiles", "malformed requiredFiles response", err)
	}
	return &out, nil
}

// Schedule fetches the raw schedule document. The CMS returns opaque text
// (XML), so this is returned unparsed; internal/collector parses it into
// the internal/resolver model (§4.1, §4.5).
func (c *Client) Schedule(ctx context.Context) ([]byte, error) {
	body, _, err := c.do(ctx, requestOpts{
		method:     http.MethodGet,
		path:       "/schedule",
		etagCache:  true,
		opName:     "schedule",
		wantOpaque: true,
	})
	return body, err
}

// GetResource fetches a widget's rendered bytes by (layoutId, regionId,
// mediaId) (§4.1).
func (c *Client) GetResource(ctx context.Context, layoutID, regionID, mediaID string) ([]byte, error) {
	body, _, err := c.do(ctx, requestOpts{
		method: http.MethodGet,
		path:   "/getResource",
		query: url.Values{
			"layoutId": {layoutID},
			"regionId": {regionID},
			"mediaId":  {mediaID},
		},
		opName:     "getResource",
		wantOpaque: true,
	})
	return body, err
}

// StatusReport is the body of notifyStatus() (§4.1 "status object +
// self-measured disk quota + timezone").
type StatusReport struct {
	CurrentLayoutID string  `json:"currentLayoutId"`
	DiskQuotaBytes  int64   `json:"diskQuotaBytes"`
	DiskUsedBytes   int64   `json:"diskUsedBytes"`
	Timezone        string  `json:"timezone"`
	Latitude        float64 `json:"latitude,omitempty"`
	Longitude       float64 `json:"longitude,omitempty"`
}

// NotifyStatus reports the display's current status to the CMS.
func (c *Client) NotifyStatus(ctx context.Context, status StatusReport) error {
	_, _, err := c.do(ctx, requestOpts{
		method:   http.MethodPost,
		path:     "/notifyStatus",
		jsonBody: status,
		opName:   "notifyStatus",
	})
	return err
}

// InventoryItem describes one locally cached file for mediaInventory().
type InventoryItem struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	MD5  string `json:"md5"`
	Size int64  `json:"size"`
}

// MediaInventory reports the files currently cached locally (§4.1).
func (c *Client) MediaInventory(ctx context.Context, items []InventoryItem) error {
	_, _, err := c.do(ctx, requestOpts{
		method:   http.MethodPost,
		path:     "/mediaInventory",
		jsonBody: items,
		opName:   "mediaInventory",
	})
	return err
}

// SubmitStats submits a batch of proof-of-play records (§4.1, array or
// XML — this client always sends the JSON array form).
func (c *Client) SubmitStats(ctx context.Context, batch []byte) error {
	_, _, err := c.do(ctx, requestOpts{
		method:  http.MethodPost,
		path:    "/submitStats",
		rawBody: batch,
		opName:  "submitStats",
	})
	return err
}

// SubmitLog submits a batch of buffered log lines (§4.1).
func (c *Client) SubmitLog(ctx context.Context, batch []byte) error {
	_, _, err := c.do(ctx, requestOpts{
		method:  http.MethodPost,
		path:    "/submitLog",
		rawBody: batch,
		opName:  "submitLog",
	})
	return err
}

// SubmitScreenshot submits a base64-encoded screenshot (§4.1).
func (c *Client) SubmitScreenshot(ctx context.Context, base64Image string) error {
	_, _, err := c.do(ctx, requestOpts{
		method:   http.MethodPost,
		path:     "/submitScreenshot",
		jsonBody: map[string]string{"image": base64Image},
		opName:   "submitScreenshot",
	})
	return err
}

// FaultReport is one accumulated error, flushed to the CMS on the first
// successful register() after failures have persisted for the collector's
// fault window (§4.1 "reportFaults"; SPEC_FULL "fault reporting").
type FaultReport struct {
	Kind      string `json:"kind"`
	Op        string `json:"op"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Count     int    `json:"count"`
}

// ReportFaults submits accumulated fault reports.
func (c *Client) ReportFaults(ctx context.Context, faults []FaultReport) error {
	_, _, err := c.do(ctx, requestOpts{
		method:   http.MethodPost,
		path:     "/reportFaults",
		jsonBody: faults,
		opName:   "reportFaults",
	})
	return err
}

// GetWeather fetches the weather JSON payload (§4.1).
func (c *Client) GetWeather(ctx context.Context) ([]byte, error) {
	body, _, err := c.do(ctx, requestOpts{
		method: http.MethodGet,
		path:   "/getWeather",
		opName: "getWeather",
	})
	return body, err
}

// Head, Get, and GetRange satisfy internal/downloader.Fetcher: direct file
// fetches against the CMS-supplied download URL, which is a distinct
// resource from the API calls above and carries no CMS auth of its own.
func (c *Client) Head(ctx context.Context, fileURL string) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, fileURL, nil)
	if err != nil {
		return 0, "", playererr.Wrap(playererr.Protocol, "transport.Head", "failed to build HEAD request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", playererr.Wrap(playererr.Transient, "transport.Head", "HEAD request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, "", playererr.New(playererr.NotFound, "transport.Head", fmt.Sprintf("HEAD returned %d", resp.StatusCode))
	}
	return resp.ContentLength, resp.Header.Get("Content-Type"), nil
}

func (c *Client) Get(ctx context.Context, fileURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, "", playererr.Wrap(playererr.Protocol, "transport.Get", "failed to build GET request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", playererr.Wrap(playererr.Transient, "transport.Get", "GET request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", playererr.New(playererr.NotFound, "transport.Get", fmt.Sprintf("GET returned %d", resp.StatusCode))
	}
	data, err := readAll(resp)
	if err != nil {
		return nil, "", playererr.Wrap(playererr.Transient, "transport.Get", "failed reading response body", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) GetRange(ctx context.Context, fileURL string, start, end int64) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, false, playererr.Wrap(playererr.Protocol, "transport.GetRange", "failed to build ranged GET request", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, playererr.Wrap(playererr.Transient, "transport.GetRange", "ranged GET request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, false, playererr.New(playererr.NotFound, "transport.GetRange", fmt.Sprintf("ranged GET returned %d", resp.StatusCode))
	}
	data, err := readAll(resp)
	if err != nil {
		return nil, false, playererr.Wrap(playererr.Transient, "transport.GetRange", "failed reading response body", err)
	}
	return data, resp.StatusCode == http.StatusPartialContent, nil
}
