package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/convlink/internal/api"
	"github.com/banshee-data/convlink/internal/converter"
	"github.com/banshee-data/convlink/internal/monitoring"
	"github.com/banshee-data/convlink/internal/protocol"
	"github.com/banshee-data/convlink/internal/serialmux"
	"github.com/banshee-data/convlink/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestRequestsAndDecoding(t *testing.T) {
	mock := &MockDoer{}
	mock.AddResponse(http.StatusOK, `{"command":"e(300)","ok":true,"verification":{"command":{"opcode":101,"value":300,"has_value":true},"outcome":"matched","echo":300,"has_echo":true}}`)

	c := New("http://converter.local:8080/", mock)
	v, err := c.Send(context.Background(), protocol.NewValueCommand('e', 300))
	require.NoError(t, err)
	assert.True(t, v.Ok())
	assert.Equal(t, uint16(300), v.Echo)

	require.Equal(t, 1, mock.RequestCount())
	req := mock.Requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "http://converter.local:8080/api/commands", req.URL.String())
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"opcode":"e","value":300}`, mock.Bodies[0])
}

func TestSetpointRequests(t *testing.T) {
	mock := &MockDoer{}
	c := New("http://x", mock)
	ctx := context.Background()

	_, err := c.SetCurrent(ctx, 0)
	require.NoError(t, err)
	_, err = c.SetReference(ctx, 2062)
	require.NoError(t, err)
	require.NoError(t, c.SetOffset(ctx, 1938))
	_, err = c.Increment(ctx, -0.5)
	require.NoError(t, err)

	require.Equal(t, 4, mock.RequestCount())
	assert.JSONEq(t, `{"amps":0}`, mock.Bodies[0])
	assert.JSONEq(t, `{"reference":2062}`, mock.Bodies[1])
	assert.JSONEq(t, `{"offset":1938}`, mock.Bodies[2])
	assert.JSONEq(t, `{"delta":-0.5}`, mock.Bodies[3])
	assert.Equal(t, "/api/setpoint/increment", mock.Requests[3].URL.Path)
}

func TestAPIError(t *testing.T) {
	mock := &MockDoer{}
	mock.AddResponse(http.StatusBadGateway, `{"error":"no response from device"}`)
	mock.AddResponse(http.StatusInternalServerError, "plain failure\n")

	c := New("http://x", mock)
	_, err := c.Start(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "no response from device", apiErr.Message)

	_, err = c.Stop(context.Background())
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "plain failure", apiErr.Message)
}

func TestTransportError(t *testing.T) {
	mock := &MockDoer{}
	wantErr := errors.New("connection refused")
	mock.AddError(wantErr)

	_, err := New("http://x", mock).Poll(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestMockReset(t *testing.T) {
	mock := &MockDoer{}
	mock.AddResponse(http.StatusTeapot, "")
	_, _ = mock.Do(httptest.NewRequest(http.MethodGet, "/", nil))
	mock.Reset()
	assert.Equal(t, 0, mock.RequestCount())
	assert.Empty(t, mock.Responses)
}

// TestAgainstServer drives a real API server backed by the simulated device.
func TestAgainstServer(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	sim := serialmux.NewSimulatedConverter(protocol.TelemetryFrame{LowVoltage: 1200, Temperature: 1300})
	sim.Reference = 2062
	link := serialmux.NewSimulatedSerialMux(sim, serialmux.WithClock(clock))
	defer link.Close()

	ctrl, err := converter.New(link, converter.Options{Clock: clock})
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewServer(ctrl, nil).ServeMux())
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	ctx := context.Background()

	snap, err := c.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1200, snap.Frame.LowVoltage)

	v, err := c.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(2062), v.Echo)

	require.NoError(t, c.SetOffset(ctx, 1938))
	v, err = c.SetCurrent(ctx, 10)
	require.NoError(t, err)
	assert.True(t, v.Ok())

	sp, err := c.Setpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(2062), sp.ReferenceADC)

	_, err = c.SetCurrent(ctx, 1e6)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}
