package subscription

import "errors"

// 订阅拉取/解析错误分类
var (
	// ErrFetchTimeout 拉取超时
	ErrFetchTimeout = errors.New("subscription fetch timeout")

	// ErrFetchConnect 连接失败（DNS/TCP 层）
	ErrFetchConnect = errors.New("subscription connect failed")

	// ErrRejected 服务端 403：大概率是订阅被封锁或已过期
	ErrRejected = errors.New("subscription rejected (likely blocked or expired)")

	// ErrBadStatus 其他非 2xx 状态
	ErrBadStatus = errors.New("subscription returned non-2xx status")

	// ErrMalformedPayload 载荷无法解析
	ErrMalformedPayload = errors.New("malformed subscription payload")

	// ErrNoUsableNodes 过滤后没有任何可用节点
	ErrNoUsableNodes = errors.New("subscription contains no usable nodes")
)
