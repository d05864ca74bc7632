package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"helmsman/internal/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// obsWithSpreads 构造末两行具有指定 EMA 距离差的观测矩阵。
func obsWithSpreads(prevSpread, lastSpread float64) [][]float64 {
	prev := make([]float64, engine.NumFeatures+2)
	last := make([]float64, engine.NumFeatures+2)
	prev[3] = prevSpread
	last[3] = lastSpread
	return [][]float64{prev, last}
}

func TestEMACrossGoldenCross(t *testing.T) {
	act, err := EMACross{}.Decide(context.Background(), obsWithSpreads(-0.01, 0.01))
	require.NoError(t, err)
	assert.Equal(t, engine.Buy, act)
}

func TestEMACrossDeathCross(t *testing.T) {
	act, err := EMACross{}.Decide(context.Background(), obsWithSpreads(0.01, -0.01))
	require.NoError(t, err)
	assert.Equal(t, engine.Sell, act)
}

func TestEMACrossNoCrossHolds(t *testing.T) {
	act, err := EMACross{}.Decide(context.Background(), obsWithSpreads(0.01, 0.02))
	require.NoError(t, err)
	assert.Equal(t, engine.Hold, act)
}

func TestEMACrossDegenerateInput(t *testing.T) {
	act, err := EMACross{}.Decide(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, engine.Hold, act)

	act, err = EMACross{}.Decide(context.Background(), [][]float64{{1}, {2}})
	require.NoError(t, err)
	assert.Equal(t, engine.Hold, act)
}

func TestRemoteDecideParsesAction(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"action":"BUY","confidence":0.8}`))
	}))
	defer srv.Close()

	remote, err := NewRemote(srv.URL, "btcusdt", 5*time.Second)
	require.NoError(t, err)

	act, err := remote.Decide(context.Background(), [][]float64{{0.1, 0.2}})
	require.NoError(t, err)
	assert.Equal(t, engine.Buy, act)
	assert.Equal(t, "BTCUSDT", gotBody["symbol"])
	assert.NotNil(t, gotBody["observation"])
}

func TestRemoteMalformedResponseIsHoldNotError(t *testing.T) {
	cases := map[string]string{
		"not json":       `<html>oops</html>`,
		"missing action": `{"confidence":0.5}`,
		"bad enum":       `{"action":"SHORT"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			remote, err := NewRemote(srv.URL, "BTCUSDT", time.Second)
			require.NoError(t, err)

			act, err := remote.Decide(context.Background(), nil)
			// 畸形应答降级为 HOLD，不算故障。
			require.NoError(t, err)
			assert.Equal(t, engine.Hold, act)
		})
	}
}

func TestRemoteNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	remote, err := NewRemote(srv.URL, "BTCUSDT", time.Second)
	require.NoError(t, err)

	act, err := remote.Decide(context.Background(), nil)
	assert.Error(t, err)
	assert.Equal(t, engine.Hold, act)
}

func TestRemoteRequiresEndpoint(t *testing.T) {
	_, err := NewRemote("   ", "BTCUSDT", time.Second)
	assert.Error(t, err)
}
