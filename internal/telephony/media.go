package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MediaClient drives a media server over its HTTP control API. The server
// terminates RTP; the gateway only tells it what to record and play.
type MediaClient struct {
	baseURL string
	secret  string
	http    *http.Client
	log     *slog.Logger
}

func NewMediaClient(baseURL, secret string, log *slog.Logger) *MediaClient {
	if log == nil {
		log = slog.Default()
	}
	return &MediaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		// Record calls block for the recording length; per-call deadlines come from ctx.
		http: &http.Client{},
		log:  log.With("component", "media"),
	}
}

type connectBody struct {
	CallID     string   `json:"call_id"`
	RemoteIP   string   `json:"remote_ip"`
	RemotePort int      `json:"remote_port"`
	Formats    []string `json:"formats"`
}

type endpointBody struct {
	ID      string   `json:"endpoint_id"`
	IP      string   `json:"rtp_ip"`
	Port    int      `json:"rtp_port"`
	Formats []string `json:"formats"`
}

type recordBody struct {
	Path          string `json:"path"`
	MaxDurationMS int64  `json:"max_duration_ms"`
	SilenceMS     int64  `json:"silence_ms"`
}

type recordResult struct {
	Path       string `json:"path"`
	DurationMS int64  `json:"duration_ms"`
}

type playBody struct {
	Path string `json:"path"`
}

func (c *MediaClient) Connect(ctx context.Context, req ConnectRequest) (MediaEndpoint, error) {
	var ep endpointBody
	err := c.do(ctx, http.MethodPost, "/endpoints", connectBody{
		CallID:     req.CallID,
		RemoteIP:   req.Remote.IP,
		RemotePort: req.Remote.Port,
		Formats:    req.Remote.Formats,
	}, &ep)
	if err != nil {
		return nil, err
	}
	if ep.ID == "" {
		return nil, fmt.Errorf("%w: media server returned no endpoint id", ErrTelephony)
	}
	c.log.Debug("media endpoint connected", "call_id", req.CallID, "endpoint_id", ep.ID)
	return &mediaEndpoint{client: c, id: ep.ID, addr: RTPAddress{IP: ep.IP, Port: ep.Port, Formats: ep.Formats}}, nil
}

func (c *MediaClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTelephony, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: media %s %s: %w", ErrTelephony, method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusGone {
		return ErrCallEnded
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("%w: media %s %s: status %d: %s", ErrTelephony, method, path, res.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode media response: %w", ErrTelephony, err)
	}
	return nil
}

type mediaEndpoint struct {
	client *MediaClient
	id     string
	addr   RTPAddress
}

func (e *mediaEndpoint) Address() RTPAddress { return e.addr }

func (e *mediaEndpoint) path(suffix string) string {
	return "/endpoints/" + url.PathEscape(e.id) + suffix
}

func (e *mediaEndpoint) Record(ctx context.Context, path string, limits RecordLimits) (Recording, error) {
	var out recordResult
	err := e.client.do(ctx, http.MethodPost, e.path("/record"), recordBody{
		Path:          path,
		MaxDurationMS: limits.MaxDuration.Milliseconds(),
		SilenceMS:     limits.SilenceTimeout.Milliseconds(),
	}, &out)
	if err != nil {
		return Recording{}, err
	}
	if out.Path == "" {
		out.Path = path
	}
	return Recording{Path: out.Path, Duration: time.Duration(out.DurationMS) * time.Millisecond}, nil
}

func (e *mediaEndpoint) Play(ctx context.Context, path string) error {
	return e.client.do(ctx, http.MethodPost, e.path("/play"), playBody{Path: path}, nil)
}

func (e *mediaEndpoint) Close(ctx context.Context) error {
	return e.client.do(ctx, http.MethodDelete, e.path(""), nil, nil)
}
