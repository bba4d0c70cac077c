// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_asterisk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
)

// =============================================================================
// ARI REST Client
// =============================================================================

// Bridge is the subset of the ARI bridge resource this service reads.
type Bridge struct {
	ID         string   `json:"id"`
	Technology string   `json:"technology,omitempty"`
	BridgeType string   `json:"bridge_type,omitempty"`
	Channels   []string `json:"channels,omitempty"`
}

// Channel is the subset of the ARI channel resource this service reads.
type Channel struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	State string `json:"state,omitempty"`
}

// Playback is returned by play operations.
type Playback struct {
	ID       string `json:"id"`
	MediaURI string `json:"media_uri,omitempty"`
	State    string `json:"state,omitempty"`
}

// LiveRecording is returned by record operations.
type LiveRecording struct {
	Name   string `json:"name"`
	Format string `json:"format,omitempty"`
	State  string `json:"state,omitempty"`
}

// ChannelCreateParams shape POST /channels/create.
type ChannelCreateParams struct {
	Endpoint   string
	App        string
	AppArgs    string
	ChannelID  string
	Originator string
	Formats    string
}

// ExternalMediaParams shape POST /channels/externalMedia. Data carries
// the call UUID that Asterisk replays as the AudioSocket IDENTIFY.
type ExternalMediaParams struct {
	App            string
	ExternalHost   string
	Format         string
	Encapsulation  string
	Transport      string
	ConnectionType string
	Data           string
	ChannelID      string
}

// RecordParams shape channel and bridge record operations.
type RecordParams struct {
	Name               string
	Format             string
	MaxDurationSeconds int
	MaxSilenceSeconds  int
	IfExists           string
	Beep               bool
	TerminateOn        string
}

// SnoopParams shape POST /channels/{id}/snoop.
type SnoopParams struct {
	App     string
	AppArgs string
	Spy     string
	Whisper string
	SnoopID string
}

// Client is the ARI REST surface consumed by the orchestrator and the
// control-plane API.
type Client interface {
	CreateBridge(ctx context.Context) (*Bridge, error)
	DeleteBridge(ctx context.Context, bridgeID string) error
	AddChannelToBridge(ctx context.Context, bridgeID, channelID string) error
	RecordBridge(ctx context.Context, bridgeID string, params RecordParams) (*LiveRecording, error)

	CreateChannel(ctx context.Context, params ChannelCreateParams) (*Channel, error)
	CreateExternalMedia(ctx context.Context, params ExternalMediaParams) (*Channel, error)
	Dial(ctx context.Context, channelID string) error
	Play(ctx context.Context, channelID, media string) (*Playback, error)
	RecordChannel(ctx context.Context, channelID string, params RecordParams) (*LiveRecording, error)
	Snoop(ctx context.Context, channelID string, params SnoopParams) (*Channel, error)
	Hangup(ctx context.Context, channelID string) error
	GetChannelVar(ctx context.Context, channelID, variable string) (string, error)
	SetChannelVar(ctx context.Context, channelID, variable, value string) error
}

// RequestError is a non-2xx ARI response. 4xx/5xx are permanent for the
// request that caused them; the orchestrator decides call disposition.
type RequestError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("asterisk: %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

type restClient struct {
	http   *resty.Client
	logger commons.Logger
}

// NewClient builds an ARI REST client against baseURL (http://host/ari)
// with Basic auth and a per-request timeout.
func NewClient(baseURL, user, pass string, timeout time.Duration, logger commons.Logger) Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(user, pass).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &restClient{http: httpClient, logger: logger}
}

func (c *restClient) CreateBridge(ctx context.Context) (*Bridge, error) {
	var bridge Bridge
	err := c.post(ctx, "/bridges", map[string]string{"type": "mixing"}, &bridge)
	if err != nil {
		return nil, err
	}
	c.logger.Debugw("asterisk: bridge created", "bridge_id", bridge.ID)
	return &bridge, nil
}

func (c *restClient) DeleteBridge(ctx context.Context, bridgeID string) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/bridges/" + bridgeID)
	return c.normalize("DELETE", "/bridges/"+bridgeID, resp, err)
}

func (c *restClient) AddChannelToBridge(ctx context.Context, bridgeID, channelID string) error {
	path := "/bridges/" + bridgeID + "/addChannel"
	return c.post(ctx, path, map[string]string{"channel": channelID}, nil)
}

func (c *restClient) RecordBridge(ctx context.Context, bridgeID string, params RecordParams) (*LiveRecording, error) {
	var rec LiveRecording
	path := "/bridges/" + bridgeID + "/record"
	if err := c.post(ctx, path, recordQuery(params), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *restClient) CreateChannel(ctx context.Context, params ChannelCreateParams) (*Channel, error) {
	query := map[string]string{
		"endpoint": params.Endpoint,
		"app":      params.App,
	}
	if params.AppArgs != "" {
		query["appArgs"] = params.AppArgs
	}
	if params.ChannelID != "" {
		query["channelId"] = params.ChannelID
	}
	if params.Originator != "" {
		query["originator"] = params.Originator
	}
	if params.Formats != "" {
		query["formats"] = params.Formats
	}
	var ch Channel
	if err := c.post(ctx, "/channels/create", query, &ch); err != nil {
		return nil, err
	}
	c.logger.Debugw("asterisk: channel created", "channel_id", ch.ID, "endpoint", params.Endpoint)
	return &ch, nil
}

func (c *restClient) CreateExternalMedia(ctx context.Context, params ExternalMediaParams) (*Channel, error) {
	query := map[string]string{
		"app":           params.App,
		"external_host": params.ExternalHost,
		"format":        params.Format,
	}
	if params.Encapsulation != "" {
		query["encapsulation"] = params.Encapsulation
	}
	if params.Transport != "" {
		query["transport"] = params.Transport
	}
	if params.ConnectionType != "" {
		query["connection_type"] = params.ConnectionType
	}
	if params.Data != "" {
		query["data"] = params.Data
	}
	if params.ChannelID != "" {
		query["channelId"] = params.ChannelID
	}
	var ch Channel
	if err := c.post(ctx, "/channels/externalMedia", query, &ch); err != nil {
		return nil, err
	}
	c.logger.Debugw("asterisk: external media created",
		"channel_id", ch.ID, "external_host", params.ExternalHost, "data", params.Data)
	return &ch, nil
}

func (c *restClient) Dial(ctx context.Context, channelID string) error {
	return c.post(ctx, "/channels/"+channelID+"/dial", nil, nil)
}

func (c *restClient) Play(ctx context.Context, channelID, media string) (*Playback, error) {
	var playback Playback
	path := "/channels/" + channelID + "/play"
	if err := c.post(ctx, path, map[string]string{"media": media}, &playback); err != nil {
		return nil, err
	}
	return &playback, nil
}

func (c *restClient) RecordChannel(ctx context.Context, channelID string, params RecordParams) (*LiveRecording, error) {
	var rec LiveRecording
	path := "/channels/" + channelID + "/record"
	if err := c.post(ctx, path, recordQuery(params), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *restClient) Snoop(ctx context.Context, channelID string, params SnoopParams) (*Channel, error) {
	query := map[string]string{"app": params.App}
	if params.AppArgs != "" {
		query["appArgs"] = params.AppArgs
	}
	if params.Spy != "" {
		query["spy"] = params.Spy
	}
	if params.Whisper != "" {
		query["whisper"] = params.Whisper
	}
	if params.SnoopID != "" {
		query["snoopId"] = params.SnoopID
	}
	var ch Channel
	if err := c.post(ctx, "/channels/"+channelID+"/snoop", query, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *restClient) Hangup(ctx context.Context, channelID string) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/channels/" + channelID)
	return c.normalize("DELETE", "/channels/"+channelID, resp, err)
}

func (c *restClient) GetChannelVar(ctx context.Context, channelID, variable string) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	path := "/channels/" + channelID + "/variable"
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("variable", variable).
		SetResult(&out).
		Get(path)
	if nerr := c.normalize("GET", path, resp, err); nerr != nil {
		return "", nerr
	}
	return out.Value, nil
}

func (c *restClient) SetChannelVar(ctx context.Context, channelID, variable, value string) error {
	path := "/channels/" + channelID + "/variable"
	return c.post(ctx, path, map[string]string{"variable": variable, "value": value}, nil)
}

// post issues a query-parameter POST, the form every ARI endpoint
// accepts, decoding a JSON body into out when one is expected.
func (c *restClient) post(ctx context.Context, path string, query map[string]string, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Post(path)
	return c.normalize("POST", path, resp, err)
}

// normalize maps transport failures, timeouts, and non-2xx statuses to
// the shared error taxonomy. Any 2xx is success.
func (c *restClient) normalize(method, path string, resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return internal_type.Timeoutf("asterisk: %s %s: %v", method, path, err)
		}
		return internal_type.Transportf("asterisk: %s %s: %v", method, path, err)
	}
	if resp.IsSuccess() {
		return nil
	}
	reqErr := &RequestError{Method: method, Path: path, Status: resp.StatusCode(), Body: resp.String()}
	c.logger.Warnw("asterisk: request failed",
		"method", method, "path", path, "status", strconv.Itoa(resp.StatusCode()))
	return reqErr
}

func recordQuery(params RecordParams) map[string]string {
	query := map[string]string{
		"name":   params.Name,
		"format": params.Format,
	}
	if params.MaxDurationSeconds > 0 {
		query["maxDurationSeconds"] = strconv.Itoa(params.MaxDurationSeconds)
	}
	if params.MaxSilenceSeconds > 0 {
		query["maxSilenceSeconds"] = strconv.Itoa(params.MaxSilenceSeconds)
	}
	if params.IfExists != "" {
		query["ifExists"] = params.IfExists
	}
	if params.Beep {
		query["beep"] = "true"
	}
	if params.TerminateOn != "" {
		query["terminateOn"] = params.TerminateOn
	}
	return query
}
