package types

import (
	"encoding/json"
	"testing"
)

func TestRouteString(t *testing.T) {
	tests := []struct {
		r    Route
		want string
	}{
		{RouteUnknown, "unknown"},
		{RouteLAN, "lan"},
		{RouteCloud, "cloud"},
		{Route(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.r.String(); got != tt.want {
				t.Errorf("Route(%d).String() = %q, want %q", tt.r, got, tt.want)
			}
		})
	}
}

func TestRouteJSON(t *testing.T) {
	data, err := json.Marshal(RouteCloud)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"cloud"` {
		t.Errorf("marshal = %s, want \"cloud\"", data)
	}

	var r Route
	if err := json.Unmarshal([]byte(`"lan"`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r != RouteLAN {
		t.Errorf("unmarshal = %v, want RouteLAN", r)
	}

	if err := json.Unmarshal([]byte(`"carrier-pigeon"`), &r); err == nil {
		t.Error("期望未知路径解析失败")
	}
}

func TestLinkState(t *testing.T) {
	tests := []struct {
		s         LinkState
		want      string
		connected bool
		route     Route
	}{
		{LinkDisconnected, "disconnected", false, RouteUnknown},
		{LinkConnectingLAN, "connecting_lan", false, RouteUnknown},
		{LinkConnectedLAN, "connected_lan", true, RouteLAN},
		{LinkConnectingCloud, "connecting_cloud", false, RouteUnknown},
		{LinkConnectedCloud, "connected_cloud", true, RouteCloud},
		{LinkFailed, "failed", false, RouteUnknown},
		{LinkState(99), "unknown", false, RouteUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.s.String(); got != tt.want {
				t.Errorf("LinkState(%d).String() = %q, want %q", tt.s, got, tt.want)
			}
			if got := tt.s.Connected(); got != tt.connected {
				t.Errorf("Connected() = %v, want %v", got, tt.connected)
			}
			if got := tt.s.Route(); got != tt.route {
				t.Errorf("Route() = %v, want %v", got, tt.route)
			}
		})
	}
}

func TestDeviceIDShort(t *testing.T) {
	tests := []struct {
		name string
		id   DeviceID
		want string
	}{
		{"短标识原样返回", DeviceID("abc"), "abc"},
		{"恰好八位", DeviceID("12345678"), "12345678"},
		{"长标识截断", DeviceID("0123456789abcdef"), "01234567"},
		{"空标识", DeviceID(""), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.Short(); got != tt.want {
				t.Errorf("Short() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConnState(t *testing.T) {
	tests := []struct {
		s    ConnState
		want string
	}{
		{ConnHandshaking, "handshaking"},
		{ConnOpen, "open"},
		{ConnClosed, "closed"},
		{ConnState(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.s.String(); got != tt.want {
				t.Errorf("ConnState(%d).String() = %q, want %q", tt.s, got, tt.want)
			}
		})
	}
}
