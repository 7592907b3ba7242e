package relay

import (
	"github.com/syncboard/go-syncboard/internal/core/wsproto"
)

// handleFrame 按信封目标转发一帧
//
// 解码只为取出 payload 里的 target，投递的仍是原始帧字节，
// 密文与签名经过中继不发生任何变化。目标离线时直接丢弃，
// 补偿靠设备端的监督与重连，中继不做排队重发。
func (s *Server) handleFrame(conn *wsproto.Conn, data []byte) {
	from := conn.Device()

	env, err := s.codec.Decode(data)
	if err != nil {
		s.dropped.Add(1)
		logger.Debug("丢弃无法解析的帧", "from", from.Short(), "err", err)
		return
	}

	target := env.Payload.Target
	if target == "" {
		s.dropped.Add(1)
		logger.Debug("丢弃缺少目标的信封", "from", from.Short(), "type", env.Type)
		return
	}
	if target == from {
		s.dropped.Add(1)
		logger.Debug("丢弃指向自身的信封", "from", from.Short())
		return
	}

	if err := s.ws.Send(target, data); err != nil {
		s.dropped.Add(1)
		logger.Debug("目标设备不在线，丢弃信封",
			"from", from.Short(),
			"target", target.Short(),
			"err", err)
		return
	}

	s.forwarded.Add(1)
	logger.Debug("已转发信封",
		"from", from.Short(),
		"target", target.Short(),
		"bytes", len(data))
}
