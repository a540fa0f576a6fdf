package tiko

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordedRequest is what the fake vendor saw for one call.
type recordedRequest struct {
	Header    http.Header
	Query     string
	Variables map[string]any
	RawVars   json.RawMessage
}

func (r recordedRequest) is(operation string) bool {
	return strings.Contains(r.Query, operation)
}

// fakeVendor is an httptest server speaking the GraphQL envelope.
type fakeVendor struct {
	mu       sync.Mutex
	requests []recordedRequest
	server   *httptest.Server
}

func newFakeVendor(t *testing.T, handler func(w http.ResponseWriter, req recordedRequest)) *fakeVendor {
	t.Helper()

	fv := &fakeVendor{}
	fv.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query     string          `json:"query"`
			Variables json.RawMessage `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		rec := recordedRequest{Header: r.Header.Clone(), Query: body.Query, RawVars: body.Variables}
		_ = json.Unmarshal(body.Variables, &rec.Variables) //nolint:errcheck // nil map on failure is checked by tests

		fv.mu.Lock()
		fv.requests = append(fv.requests, rec)
		fv.mu.Unlock()

		handler(w, rec)
	}))
	t.Cleanup(fv.server.Close)

	return fv
}

func (f *fakeVendor) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(ClientOptions{Endpoint: f.server.URL})
	require.NoError(t, err)
	return c
}

func (f *fakeVendor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeVendor) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return recordedRequest{}
	}
	return f.requests[len(f.requests)-1]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test server
}

// loginOK is a successful login body for account 42 with token "abc".
var loginOK = map[string]any{
	"data": map[string]any{
		"logIn": map[string]any{
			"user":       map[string]any{"id": 42, "__typename": "UserType"},
			"token":      "abc",
			"__typename": "LogInMutation",
		},
	},
}

// stateOK is a state payload with one property and two rooms.
var stateOK = map[string]any{
	"data": map[string]any{
		"properties": []any{
			map[string]any{
				"id":   1,
				"name": "Maison",
				"mode": nil,
				"rooms": []any{
					map[string]any{
						"id":                        2,
						"name":                      "Salon",
						"currentTemperatureDegrees": 19.5,
						"targetTemperatureDegrees":  20.0,
						"humidity":                  45.2,
						"sensors":                   1,
						"mode": map[string]any{
							"comfort": true, "absence": false,
							"frost": false, "sleep": false, "disableHeating": false,
						},
						"status": map[string]any{"heatingOperating": true, "sensorBatteryLow": false},
					},
					map[string]any{
						"id":                        "3",
						"name":                      "Chambre",
						"currentTemperatureDegrees": 17.0,
						"targetTemperatureDegrees":  16.0,
						"humidity":                  nil,
						"sensors":                   nil,
						"mode": map[string]any{
							"comfort": false, "absence": false,
							"frost": false, "sleep": false, "disableHeating": true,
						},
						"status": map[string]any{"heatingOperating": false, "sensorBatteryLow": true},
					},
				},
			},
		},
	},
}

func setSessionCookies(w http.ResponseWriter, csrf, member string) {
	if csrf != "" {
		http.SetCookie(w, &http.Cookie{Name: cookieCSRF, Value: csrf})
	}
	if member != "" {
		http.SetCookie(w, &http.Cookie{Name: cookieMemberSession, Value: member})
	}
}
