// Package wsproto 提供最小化的 WebSocket 协议引擎
package wsproto

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// websocketGUID RFC 6455 固定的握手 GUID
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// acceptKey 计算 Sec-WebSocket-Accept 值
//
// base64(SHA1(Sec-WebSocket-Key + GUID))。
func acceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// headerContainsToken 判断逗号分隔的头字段是否包含指定 token
//
// Connection 头可能形如 "keep-alive, Upgrade"。
func headerContainsToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// deviceIdentity 从升级请求中提取设备标识
//
// 优先使用 device_id 查询参数，其次是 x-device-id 头。
func deviceIdentity(r *http.Request) types.DeviceID {
	if id := r.URL.Query().Get("device_id"); id != "" {
		return types.DeviceID(id)
	}
	return types.DeviceID(r.Header.Get("x-device-id"))
}

// ============================================================================
//                              服务端握手
// ============================================================================

// Upgrade 将 HTTP 请求升级为 WebSocket 连接
//
// 校验必需的升级头（Upgrade: websocket、Connection: Upgrade、
// Sec-WebSocket-Key）与设备标识，全部通过后接管底层连接并
// 回复 101；任一校验失败回复 400 并返回错误。
//
// 返回的连接尚未启动读循环，调用方注册回调后调用 Start。
func Upgrade(w http.ResponseWriter, r *http.Request, cfg config.WebSocketConfig) (*Conn, error) {
	if r.Method != http.MethodGet {
		http.Error(w, "websocket upgrade requires GET", http.StatusBadRequest)
		return nil, fmt.Errorf("%w: method %s", ErrNotWebSocket, r.Method)
	}
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		http.Error(w, "missing Upgrade: websocket header", http.StatusBadRequest)
		return nil, fmt.Errorf("%w: bad Upgrade header", ErrNotWebSocket)
	}
	if !headerContainsToken(r.Header.Get("Connection"), "Upgrade") {
		http.Error(w, "missing Connection: Upgrade header", http.StatusBadRequest)
		return nil, fmt.Errorf("%w: bad Connection header", ErrNotWebSocket)
	}

	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		http.Error(w, "missing Sec-WebSocket-Key header", http.StatusBadRequest)
		return nil, fmt.Errorf("%w: missing key", ErrNotWebSocket)
	}

	device := deviceIdentity(r)
	if device.Empty() {
		http.Error(w, "missing device identity", http.StatusBadRequest)
		return nil, ErrMissingDeviceID
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "connection cannot be hijacked", http.StatusInternalServerError)
		return nil, fmt.Errorf("%w: response writer does not support hijacking", ErrNotWebSocket)
	}

	nc, brw, err := hj.Hijack()
	if err != nil {
		return nil, fmt.Errorf("hijack connection: %w", err)
	}

	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + acceptKey(key) + "\r\n\r\n"

	if _, err := nc.Write([]byte(response)); err != nil {
		nc.Close()
		return nil, fmt.Errorf("write handshake response: %w", err)
	}

	// 升级前已到达的字节要进入接收缓冲区，不能丢
	var initial []byte
	if n := brw.Reader.Buffered(); n > 0 {
		initial, _ = brw.Reader.Peek(n)
		initial = append([]byte{}, initial...)
	}

	return newConn(nc, device, false, cfg, initial), nil
}

// ============================================================================
//                              客户端握手
// ============================================================================

// DialContext 建立到对端的 WebSocket 连接
//
// 支持 ws:// 与 wss:// 端点。发送标准升级请求并校验 101
// 响应与 Sec-WebSocket-Accept 值，设备标识附加在
// device_id 查询参数上。
func DialContext(ctx context.Context, rawURL string, device types.DeviceID, cfg config.WebSocketConfig) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", rawURL, err)
	}

	var useTLS bool
	switch u.Scheme {
	case "ws":
		useTLS = false
	case "wss":
		useTLS = true
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrHandshakeFailed, u.Scheme)
	}

	host := u.Host
	if u.Port() == "" {
		if useTLS {
			host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	dialer := &net.Dialer{Timeout: cfg.HandshakeTimeout.Duration()}
	nc, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}

	if useTLS {
		tc := tls.Client(nc, &tls.Config{ServerName: u.Hostname()})
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", host, err)
		}
		nc = tc
	}

	conn, err := clientHandshake(nc, u, device, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return conn, nil
}

// clientHandshake 在已建立的连接上完成客户端升级握手
func clientHandshake(nc net.Conn, u *url.URL, device types.DeviceID, cfg config.WebSocketConfig) (*Conn, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate handshake key: %w", err)
	}
	key := base64.StdEncoding.EncodeToString(raw)

	path := u.Path
	if path == "" {
		path = "/"
	}
	query := u.Query()
	query.Set("device_id", device.String())

	request := fmt.Sprintf("GET %s?%s HTTP/1.1\r\n", path, query.Encode()) +
		"Host: " + u.Host + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"

	if _, err := nc.Write([]byte(request)); err != nil {
		return nil, fmt.Errorf("write handshake request: %w", err)
	}

	reader := bufio.NewReader(nc)
	resp, err := http.ReadResponse(reader, nil)
	if err != nil {
		return nil, fmt.Errorf("read handshake response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, fmt.Errorf("%w: server replied %s", ErrHandshakeFailed, resp.Status)
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != acceptKey(key) {
		return nil, fmt.Errorf("%w: bad accept token", ErrHandshakeFailed)
	}

	// 101 响应后紧跟的帧字节可能已被 bufio 读入
	var initial []byte
	if n := reader.Buffered(); n > 0 {
		initial, _ = reader.Peek(n)
		initial = append([]byte{}, initial...)
	}

	return newConn(nc, device, true, cfg, initial), nil
}
