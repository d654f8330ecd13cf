package bypass

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"outway/backend/domain"
)

const (
	defaultGeoEndpoint = "http://ip-api.com/json"
	geoLookupTimeout   = 3 * time.Second
)

// geoClient IP 地理位置查询。
// 直连短超时：热路径上的兜底查询，宁可 Unknown 也不能拖住请求。
type geoClient struct {
	baseURL string
	client  *http.Client
}

func newGeoClient(baseURL string) *geoClient {
	return &geoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: geoLookupTimeout,
			Transport: &http.Transport{
				Proxy:       nil, // 查询自身必须直连，否则又是自举依赖
				DialContext: (&net.Dialer{Timeout: geoLookupTimeout}).DialContext,
			},
		},
	}
}

// lookup 按响应的 country 字段分类。
// 拉不到/解析不了一律 Unknown（调用方不缓存 Unknown，留待重试）。
func (g *geoClient) lookup(ctx context.Context, ip string) domain.BypassDecision {
	endpoint := fmt.Sprintf("%s/%s?fields=status,country", g.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.DecisionUnknown
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.DecisionUnknown
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.DecisionUnknown
	}

	var payload struct {
		Status  string `json:"status"`
		Country string `json:"country"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.DecisionUnknown
	}
	if payload.Status != "" && payload.Status != "success" {
		return domain.DecisionUnknown
	}
	if payload.Country == "" {
		return domain.DecisionUnknown
	}

	switch payload.Country {
	case "China", "CN", "中国":
		return domain.DecisionBypass
	default:
		return domain.DecisionProxy
	}
}
