package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"outway/backend/domain"
)

const (
	fetchTimeout   = 30 * time.Second
	connectTimeout = 10 * time.Second
	maxPayloadSize = 8 << 20 // 8 MiB，订阅文本不该更大
)

// httpClientDirect 显式绕过一切代理的客户端。
// 拉订阅不能依赖它即将配置出来的 VPN，否则就是自举死锁。
var httpClientDirect = &http.Client{
	Timeout: fetchTimeout,
	Transport: &http.Transport{
		Proxy:               nil,
		DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
		DisableKeepAlives:   true,
	},
}

// FetchAndParse 拉取订阅并解析成节点列表。
func FetchAndParse(ctx context.Context, url string) ([]domain.ProxyNode, error) {
	payload, err := fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return Parse(payload)
}

func fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build subscription request: %w", err)
	}
	req.Header.Set("User-Agent", "clash-verge/1.6")

	resp, err := httpClientDirect.Do(req)
	if err != nil {
		return "", classifyFetchError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: %s", ErrRejected, resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
	if err != nil {
		return "", fmt.Errorf("read subscription body: %w", err)
	}
	return string(body), nil
}

func classifyFetchError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrFetchConnect, err)
}
