// Package client 实现中继 HTTP API 的类型化客户端
//
// 客户端是配对引擎的 Coordinator 实现：远程配对的短码签发、
// 认领与挑战/确认信箱读写都经由这里访问中继。状态码按中继的
// 约定映射回 pairing 包的哨兵错误，204 映射为非终止的
// ErrNotReady，调用方按轮询间隔重试即可。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/pairing"
	"github.com/syncboard/go-syncboard/pkg/lib/log"
)

var logger = log.Logger("relay/client")

// maxErrorBody 错误响应体的读取上限
const maxErrorBody = 4 * 1024

// Client 中继 HTTP API 客户端
//
// 并发安全；一个进程共享一个实例即可。
type Client struct {
	base string
	hc   *http.Client
}

var _ pairing.Coordinator = (*Client)(nil)

// New 创建中继客户端
//
// cfg.Endpoint 是中继的 HTTP 基地址，末尾斜杠会被剥除。
func New(cfg config.RelayConfig) *Client {
	return &Client{
		base: strings.TrimRight(cfg.Endpoint, "/"),
		hc: &http.Client{
			Timeout: cfg.RequestTimeout.Duration(),
		},
	}
}

// ============================================================================
//                              Coordinator 实现
// ============================================================================

// CreatePairingCode 申请一个新的配对码
func (c *Client) CreatePairingCode(ctx context.Context, req pairing.CodeRequest) (pairing.CodeGrant, error) {
	var grant pairing.CodeGrant
	if err := c.do(ctx, http.MethodPost, "/pairing/codes", req, &grant); err != nil {
		return pairing.CodeGrant{}, err
	}
	logger.Debug("配对码已签发", "code", grant.Code)
	return grant, nil
}

// ClaimPairingCode 凭码认领，换取发起方公钥
func (c *Client) ClaimPairingCode(ctx context.Context, code string, req pairing.ClaimRequest) (pairing.ClaimGrant, error) {
	var grant pairing.ClaimGrant
	if err := c.do(ctx, http.MethodPost, codePath(code, "claim"), req, &grant); err != nil {
		return pairing.ClaimGrant{}, err
	}
	logger.Debug("配对码已认领", "initiator", grant.InitiatorDeviceID.Short())
	return grant, nil
}

// SubmitChallenge 响应方投递挑战
func (c *Client) SubmitChallenge(ctx context.Context, code string, msg *pairing.ChallengeMessage) error {
	return c.do(ctx, http.MethodPost, codePath(code, "challenge"), msg, nil)
}

// PollChallenge 发起方拉取挑战
//
// 信箱为空时返回 pairing.ErrNotReady。
func (c *Client) PollChallenge(ctx context.Context, code string) (*pairing.ChallengeMessage, error) {
	var msg pairing.ChallengeMessage
	if err := c.do(ctx, http.MethodGet, codePath(code, "challenge"), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SubmitAck 发起方投递确认
func (c *Client) SubmitAck(ctx context.Context, code string, msg *pairing.AckMessage) error {
	return c.do(ctx, http.MethodPost, codePath(code, "ack"), msg, nil)
}

// PollAck 响应方拉取确认
//
// 信箱为空时返回 pairing.ErrNotReady。
func (c *Client) PollAck(ctx context.Context, code string) (*pairing.AckMessage, error) {
	var msg pairing.AckMessage
	if err := c.do(ctx, http.MethodGet, codePath(code, "ack"), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ============================================================================
//                              请求执行
// ============================================================================

// do 执行一次中继请求并解码响应
//
// in 非空时编码为 JSON 请求体；out 非空且响应为 200 时解码
// 响应体。错误状态码经 mapStatus 折叠为 pairing 哨兵。
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode relay request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("relay request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode relay response: %w", err)
		}
		return nil
	case http.StatusNoContent:
		return pairing.ErrNotReady
	default:
		return c.mapStatus(resp)
	}
}

// mapStatus 把中继错误状态码映射回 pairing 哨兵
//
// 约定见中继路由注释：404 不存在、410 过期、409 已认领。
// 其余状态码原样报告，引擎侧折叠为 ErrRelayUnavailable。
func (c *Client) mapStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return pairing.ErrCodeNotFound
	case http.StatusGone:
		return pairing.ErrCodeExpired
	case http.StatusConflict:
		return pairing.ErrCodeClaimed
	}

	var failure struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(raw, &failure); err != nil || failure.Error == "" {
		failure.Error = http.StatusText(resp.StatusCode)
	}
	logger.Debug("中继返回错误状态", "status", resp.StatusCode, "err", failure.Error)
	return fmt.Errorf("relay status %d: %s", resp.StatusCode, failure.Error)
}

// codePath 拼出某个配对码下的子资源路径
func codePath(code, sub string) string {
	return "/pairing/codes/" + url.PathEscape(code) + "/" + sub
}
