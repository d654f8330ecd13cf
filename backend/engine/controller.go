package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Controller 内核本地控制接口客户端（mihomo external-controller 风格）。
type Controller struct {
	baseURL string
	client  *http.Client
}

// NewController baseURL 形如 "http://127.0.0.1:7891"。
func NewController(baseURL string) *Controller {
	return &Controller{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 5 * time.Second,
			// 控制接口在 loopback 上，绝不能被共享代理配置劫持。
			Transport: &http.Transport{Proxy: nil},
		},
	}
}

// SwitchProxy 把 selector 组的活动成员切到 name。
// 非 2xx 时把响应体原样带进错误，便于排查内核侧的拒绝原因。
func (c *Controller) SwitchProxy(ctx context.Context, group, name string) error {
	endpoint := fmt.Sprintf("%s/proxies/%s", c.baseURL, url.PathEscape(group))
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("controller unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("switch proxy %q -> %q failed: %s: %s",
			group, name, resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
