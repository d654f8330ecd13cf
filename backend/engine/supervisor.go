package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 错误定义
var (
	ErrEngineNotInstalled = errors.New("engine not installed")
	ErrNotRunning         = errors.New("engine not running")
)

const (
	startSettleDelay = 500 * time.Millisecond
	stopWaitTimeout  = 5 * time.Second
	stderrCaptureCap = 16 << 10
)

// State 进程状态机：NotStarted → Starting → Running → Stopped。
// 启动中途崩溃折叠进 Stopped（带诊断信息），没有单独的失败态。
type State string

const (
	StateNotStarted State = "not-started"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopped    State = "stopped"
)

// Supervisor 外部内核进程监督者。
// 只负责一件事：把生成的声明式配置落盘、拉起/停掉内核、暴露本地
// SOCKS 端点和控制接口。节点语义完全不在这一层。
type Supervisor struct {
	stateRoot   string
	binaryNames []string
}

func NewSupervisor(stateRoot string) *Supervisor {
	return &Supervisor{
		stateRoot: stateRoot,
		// 主名 mihomo（Clash.Meta 继任），回退别名 clash。
		binaryNames: []string{"mihomo", "clash"},
	}
}

// Handle 持有唯一一个子进程及其生成的配置文件。
// socks 端口在句柄生命周期内固定；停止时删除配置文件——
// 配置绝不允许比读它的进程活得更久。
type Handle struct {
	ID            string
	SocksPort     int
	ControllerURL string

	cmd        *exec.Cmd
	configPath string
	stderr     *boundedBuffer
	done       chan struct{}

	mu    sync.Mutex
	state State
}

// Start 写配置、拉起内核并等它站稳。
// 任何一步失败都会把残留清理干净，绝不返回半启动的句柄。
func (s *Supervisor) Start(ctx context.Context, configText string, socksPort int) (*Handle, error) {
	binary, err := s.resolveBinary()
	if err != nil {
		return nil, err
	}

	configDir := filepath.Join(s.stateRoot, "engine")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("create engine config dir: %w", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configText), 0o600); err != nil {
		return nil, fmt.Errorf("write engine config: %w", err)
	}

	stderr := &boundedBuffer{cap: stderrCaptureCap}
	cmd := exec.Command(binary, "-d", configDir, "-f", configPath)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	// stderr 是非 *os.File 写入器，exec 会拷贝管道直到 EOF；
	// 进程退出后残留的管道持有者不允许无限拖住 Wait。
	cmd.WaitDelay = stopWaitTimeout
	setProcessGroup(cmd)

	h := &Handle{
		ID:            uuid.NewString(),
		SocksPort:     socksPort,
		ControllerURL: fmt.Sprintf("http://127.0.0.1:%d", ControllerPort(socksPort)),
		cmd:           cmd,
		configPath:    configPath,
		stderr:        stderr,
		done:          make(chan struct{}),
		state:         StateStarting,
	}

	if err := cmd.Start(); err != nil {
		_ = os.Remove(configPath)
		return nil, fmt.Errorf("spawn engine %s: %w", binary, err)
	}
	go h.monitor()

	// 给内核一点时间绑端口/解析配置；启动即崩的情况在这里兜住，
	// 而不是等第一次探测失败才发现。
	select {
	case <-time.After(startSettleDelay):
	case <-ctx.Done():
		h.Stop()
		return nil, ctx.Err()
	case <-h.done:
	}

	select {
	case <-h.done:
		diag := h.exitDiagnostic()
		return nil, fmt.Errorf("engine exited during startup: %s", diag)
	default:
	}

	h.setState(StateRunning)
	log.Printf("[Engine] 内核已启动 pid=%d socks=%d session=%s", cmd.Process.Pid, socksPort, h.ID)
	return h, nil
}

// resolveBinary 按主名/回退别名在执行路径上找内核二进制。
func (s *Supervisor) resolveBinary() (string, error) {
	var lastErr error
	for _, name := range s.binaryNames {
		path, err := exec.LookPath(name)
		if err == nil {
			return path, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w (tried %v): %v", ErrEngineNotInstalled, s.binaryNames, lastErr)
}

// monitor 等子进程退出并收尾。配置文件随进程一起消失。
func (h *Handle) monitor() {
	_ = h.cmd.Wait()
	h.setState(StateStopped)
	_ = os.Remove(h.configPath)
	close(h.done)
}

// Stop 尽力杀进程并有界等待退出；幂等。
func (h *Handle) Stop() {
	h.mu.Lock()
	if h.state == StateStopped {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	if h.cmd != nil && h.cmd.Process != nil {
		killProcessTree(h.cmd.Process)
	}
	select {
	case <-h.done:
	case <-time.After(stopWaitTimeout):
		// 等待超时也必须守住拆除不变量：句柄进终态、配置不留下。
		log.Printf("[Engine] 等待内核退出超时 session=%s", h.ID)
		h.setState(StateStopped)
		_ = os.Remove(h.configPath)
	}
}

// State 当前状态（并发安全）。
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SocksAddr 本地 SOCKS 端点地址。
func (h *Handle) SocksAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", h.SocksPort)
}

// Controller 控制接口客户端。
func (h *Handle) Controller() *Controller {
	return NewController(h.ControllerURL)
}

// SwitchNode 通过控制接口把 selector 切到 name；要求 Running。
func (h *Handle) SwitchNode(ctx context.Context, name string) error {
	if h.State() != StateRunning {
		return ErrNotRunning
	}
	return h.Controller().SwitchProxy(ctx, SelectorGroup, name)
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	// Stopped 是终态。
	if h.state != StateStopped {
		h.state = s
	}
	h.mu.Unlock()
}

func (h *Handle) exitDiagnostic() string {
	status := "unknown exit status"
	if ps := h.cmd.ProcessState; ps != nil {
		status = ps.String()
	}
	msg := h.stderr.String()
	if msg == "" {
		return status
	}
	return fmt.Sprintf("%s: %s", status, msg)
}

// boundedBuffer 只保留前 cap 字节的 stderr；内核刷屏时不吃内存。
type boundedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	cap int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remain := b.cap - b.buf.Len(); remain > 0 {
		if len(p) > remain {
			b.buf.Write(p[:remain])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
