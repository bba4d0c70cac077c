// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_asterisk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	User   string
	Pass   string
}

// startFakeARI records every request and answers from the routes map,
// keyed "METHOD path". Unrouted requests get a 404 with an ARI-shaped
// error body.
func startFakeARI(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		query := map[string]string{}
		for k, v := range r.URL.Query() {
			query[k] = v[0]
		}
		requests = append(requests, recordedRequest{
			Method: r.Method, Path: r.URL.Path, Query: query, User: user, Pass: pass,
		})
		if handler, ok := routes[r.Method+" "+r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"message": "not found"})
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func jsonBody(status int, v interface{}) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}
}

func newTestClient(srv *httptest.Server) Client {
	return NewClient(srv.URL, "ari-user", "ari-pass", 5*time.Second, commons.NewNopLogger())
}

// ==== choreography requests ====

func TestClient_CreateBridge(t *testing.T) {
	srv, requests := startFakeARI(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /bridges": jsonBody(200, Bridge{ID: "bridge-1", BridgeType: "mixing"}),
	})

	bridge, err := newTestClient(srv).CreateBridge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bridge-1", bridge.ID)

	req := (*requests)[0]
	assert.Equal(t, "mixing", req.Query["type"])
	assert.Equal(t, "ari-user", req.User, "basic auth must ride on every request")
	assert.Equal(t, "ari-pass", req.Pass)
}

func TestClient_CreateExternalMedia(t *testing.T) {
	srv, requests := startFakeARI(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /channels/externalMedia": jsonBody(200, Channel{ID: "em-1"}),
	})

	ch, err := newTestClient(srv).CreateExternalMedia(context.Background(), ExternalMediaParams{
		App:           "dialer",
		ExternalHost:  "10.0.0.5:7575",
		Format:        "alaw",
		Encapsulation: "audiosocket",
		Transport:     "tcp",
		Data:          "f47ac10b-58cc-4372-a567-0e02b2c3d479",
	})
	require.NoError(t, err)
	assert.Equal(t, "em-1", ch.ID)

	query := (*requests)[0].Query
	assert.Equal(t, "audiosocket", query["encapsulation"])
	assert.Equal(t, "tcp", query["transport"])
	assert.Equal(t, "10.0.0.5:7575", query["external_host"])
	assert.Equal(t, "f47ac10b-58cc-4372-a567-0e02b2c3d479", query["data"],
		"the call uuid must ride in data, it becomes the audiosocket identify")
}

func TestClient_DialAndHangup(t *testing.T) {
	srv, requests := startFakeARI(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /channels/chan-1/dial": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
		"DELETE /channels/chan-1": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
	})

	client := newTestClient(srv)
	require.NoError(t, client.Dial(context.Background(), "chan-1"))
	require.NoError(t, client.Hangup(context.Background(), "chan-1"))

	require.Len(t, *requests, 2)
	assert.Equal(t, "POST", (*requests)[0].Method)
	assert.Equal(t, "DELETE", (*requests)[1].Method)
}

func TestClient_ChannelVariables(t *testing.T) {
	srv, requests := startFakeARI(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /channels/chan-1/variable": jsonBody(200, map[string]string{"value": "SIP 200 OK"}),
		"POST /channels/chan-1/variable": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
	})

	client := newTestClient(srv)
	value, err := client.GetChannelVar(context.Background(), "chan-1", "STASISSTATUS")
	require.NoError(t, err)
	assert.Equal(t, "SIP 200 OK", value)

	require.NoError(t, client.SetChannelVar(context.Background(), "chan-1", "CALL_TAG", "outbound"))

	require.Len(t, *requests, 2)
	assert.Equal(t, "STASISSTATUS", (*requests)[0].Query["variable"])
	assert.Equal(t, "outbound", (*requests)[1].Query["value"])
}

// ==== error normalization ====

func TestClient_EmptySuccessBodyIsNotAnError(t *testing.T) {
	// The upstream implementation treated any empty body as a failure;
	// 204 with no body is the normal ARI answer for verbs.
	srv, _ := startFakeARI(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /bridges/bridge-1/addChannel": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
	})
	err := newTestClient(srv).AddChannelToBridge(context.Background(), "bridge-1", "chan-1")
	assert.NoError(t, err)
}

func TestClient_ServerErrorIsPermanent(t *testing.T) {
	srv, _ := startFakeARI(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /channels/chan-1/dial": jsonBody(500, map[string]string{"message": "Allocation failed"}),
	})

	err := newTestClient(srv).Dial(context.Background(), "chan-1")
	require.Error(t, err)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, 500, reqErr.Status)
	assert.Equal(t, "/channels/chan-1/dial", reqErr.Path)
	assert.Contains(t, reqErr.Body, "Allocation failed")
}

func TestClient_TimeoutSurfacesAsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "u", "p", 5*time.Second, commons.NewNopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := client.Dial(ctx, "chan-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, internal_type.ErrTimeout))
}
