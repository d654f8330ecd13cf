package health

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"outway/backend/domain"
)

const (
	// maxParallelProbes 并发探测上限。
	maxParallelProbes = 5
	// switchSettleDelay 切换节点后给引擎留的收敛时间。
	switchSettleDelay = 100 * time.Millisecond
	// DefaultInterval 后台巡检默认间隔。
	DefaultInterval = 30 * time.Second
)

// Switcher 引擎侧的节点切换能力，由 engine.Supervisor 实现。
type Switcher interface {
	SwitchNode(ctx context.Context, name string) error
}

// Target 一个可独立并发探测的目标。
type Target struct {
	Name  string
	Probe func(ctx context.Context) domain.HealthResult
}

// ProbeParallel 并发探测互不影响的目标，限流 5。
func ProbeParallel(ctx context.Context, targets []Target) map[string]domain.HealthResult {
	results := make(map[string]domain.HealthResult, len(targets))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelProbes)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			r := t.Probe(ctx)
			mu.Lock()
			results[t.Name] = r
			mu.Unlock()
			return nil
		})
	}
	// 各目标的失败都折叠进各自的结果，整组不会失败。
	_ = g.Wait()
	return results
}

// Checker 共享进程的串行探测器。
// 所有节点共用同一个引擎进程，探测某个节点必须先把引擎切过去，
// 整轮期间持有 mu，避免两轮探测互相切换引擎。
type Checker struct {
	mu    sync.Mutex
	probe func(ctx context.Context) domain.HealthResult
}

func NewChecker(p *Prober) *Checker {
	return &Checker{probe: p.Probe}
}

// ProbeSequential 逐个节点：切换、等待收敛、探测、记录。
// 切换失败记 Unhealthy 并继续下一个。结束后尽力切回 active。
// ctx 取消时中断本轮，已有结果原样返回。
func (c *Checker) ProbeSequential(ctx context.Context, sw Switcher, nodes []string, active string) map[string]domain.HealthResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	results := make(map[string]domain.HealthResult, len(nodes))
	for _, name := range nodes {
		if ctx.Err() != nil {
			break
		}
		if err := sw.SwitchNode(ctx, name); err != nil {
			log.Printf("[Health] 切换到节点 %q 失败: %v", name, err)
			results[name] = domain.HealthResult{Status: domain.Unhealthy, CheckedAt: time.Now()}
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(switchSettleDelay):
		}
		if ctx.Err() != nil {
			break
		}
		results[name] = c.probe(ctx)
	}

	if active != "" {
		// 用独立短超时切回：本轮 ctx 可能已取消，但引擎指向必须归位
		restoreCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := sw.SwitchNode(restoreCtx, active); err != nil {
			log.Printf("[Health] 切回当前节点 %q 失败: %v", active, err)
		}
		cancel()
	}
	return results
}

// Loop 后台巡检：第一轮立刻执行，之后按间隔触发。
// 取消只拦下一轮的调度，绝不打断进行中的一轮——半途中断
// 会留下引擎指向探测残位、结果表只写了一半的状态。
// 所以每轮拿到的是独立 ctx，取消信号只在轮与轮之间检查。
func Loop(ctx context.Context, interval time.Duration, round func(context.Context) map[string]domain.HealthResult, onResults func(map[string]domain.HealthResult)) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		results := round(context.Background())
		if ctx.Err() == nil && onResults != nil {
			onResults(results)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
