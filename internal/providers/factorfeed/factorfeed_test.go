package factorfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:      srv.URL,
		RateLimitRPS: 1000,
		RateBurst:    1000,
	})
}

func TestFactor_ParsesValueAndIndicator(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/factors/momentum/BTCUSD", r.URL.Path)
		fmt.Fprint(w, `{"value":-6.2,"indicator":24.5}`)
	})

	fs, err := client.Factor(context.Background(), "momentum", "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, "momentum", fs.Name)
	assert.Equal(t, -6.2, fs.Value)
	assert.True(t, fs.HasIndicator)
	assert.Equal(t, 24.5, fs.Indicator)
}

func TestFactor_MissingIndicatorStaysAbsent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":3.1}`)
	})

	fs, err := client.Factor(context.Background(), "trend", "BTCUSD")
	require.NoError(t, err)
	assert.False(t, fs.HasIndicator)
}

func TestFactor_ClampsOutOfRangeValues(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":250}`)
	})

	fs, err := client.Factor(context.Background(), "trend", "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, 10.0, fs.Value)
}

func TestSource_AdaptsIntoRegistryShape(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":5}`)
	})

	src := client.Source("onchain")
	assert.Equal(t, "onchain", src.Name())

	fs, err := src.Evaluate(context.Background(), "ETHUSD")
	require.NoError(t, err)
	assert.Equal(t, 5.0, fs.Value)
}

func TestPredict_PostsFeaturesAndParsesConfidence(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/predict", r.URL.Path)

		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "BTCUSD", req.Symbol)
		assert.Equal(t, 70.0, req.Features["raw_total"])

		fmt.Fprint(w, `{"confidence":0.82}`)
	})

	conf, err := client.Predict(context.Background(), "BTCUSD", map[string]float64{"raw_total": 70})
	require.NoError(t, err)
	assert.Equal(t, 0.82, conf)
}

func TestPredict_RejectsOutOfRangeConfidence(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"confidence":1.4}`)
	})

	_, err := client.Predict(context.Background(), "BTCUSD", nil)
	assert.ErrorContains(t, err, "outside [0,1]")
}

func TestPredict_HTTPErrorSurfaces(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Predict(context.Background(), "BTCUSD", nil)
	assert.ErrorContains(t, err, "status 503")
}
