// Package health 节点健康检查：经本地 SOCKS 入口探测出站连通性。
package health

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	xproxy "golang.org/x/net/proxy"

	"outway/backend/domain"
)

const (
	// probeTarget 204 测速端点，响应体为空，延迟即纯链路耗时。
	probeTarget    = "http://www.gstatic.com/generate_204"
	connectTimeout = 4 * time.Second
	probeTimeout   = 5 * time.Second
)

// Prober 通过引擎的 SOCKS 入口发起探测请求。
// 请求必须走代理链路，否则测到的是本机直连延迟。
type Prober struct {
	target string
	client *http.Client
}

func NewProber(socksPort int) (*Prober, error) {
	socksAddr := fmt.Sprintf("127.0.0.1:%d", socksPort)
	dialer, err := xproxy.SOCKS5("tcp", socksAddr, nil, &net.Dialer{Timeout: connectTimeout})
	if err != nil {
		return nil, fmt.Errorf("构造 SOCKS 拨号器失败: %w", err)
	}
	ctxDialer, ok := dialer.(xproxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS 拨号器不支持 context")
	}
	return &Prober{
		target: probeTarget,
		client: &http.Client{
			Timeout: probeTimeout,
			Transport: &http.Transport{
				DialContext:       ctxDialer.DialContext,
				DisableKeepAlives: true,
			},
		},
	}, nil
}

// Probe 对单个节点测一次延迟。探测不返回 error：
// 任何失败都归为 Unhealthy，由调用方决定后续动作。
func (p *Prober) Probe(ctx context.Context) domain.HealthResult {
	started := time.Now()
	result := domain.HealthResult{Status: domain.Unhealthy, CheckedAt: started}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target, nil)
	if err != nil {
		return result
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return result
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result
	}
	result.Status = domain.Healthy
	result.LatencyMS = time.Since(started).Milliseconds()
	if result.LatencyMS < 1 {
		result.LatencyMS = 1
	}
	return result
}
