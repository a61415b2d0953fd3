// Package mcp_host 连接 MCP 服务端，列出并调用其工具。
package mcp_host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ErrToolNotFound 表示没有任何已连接的服务端提供该工具。
var ErrToolNotFound = errors.New("tool not found")

// ConnectOptions 定义了连接到 MCP 服务端的配置项。
type ConnectOptions struct {
	ServerName string
	Transport  string // "stdio" | "sse" | "httpstream"
	Command    string
	Args       []string
	Env        []string
	URL        string
}

// Host 管理多个 MCP 客户端连接。
type Host struct {
	mu      sync.RWMutex
	servers map[string]*client.Client
}

// NewHost 创建一个新的 Host 实例。
func NewHost() *Host {
	return &Host{servers: make(map[string]*client.Client)}
}

// Connect 按传输方式建立连接并完成 initialize 握手。
func (h *Host) Connect(ctx context.Context, opts ConnectOptions) error {
	var (
		c   *client.Client
		err error
	)
	switch opts.Transport {
	case "stdio", "":
		// stdio 客户端在创建时已经启动子进程
		c, err = client.NewStdioMCPClient(opts.Command, opts.Env, opts.Args...)
	case "sse":
		if c, err = client.NewSSEMCPClient(opts.URL); err == nil {
			err = c.Start(ctx)
		}
	case "httpstream":
		if c, err = client.NewStreamableHttpClient(opts.URL); err == nil {
			err = c.Start(ctx)
		}
	default:
		return fmt.Errorf("unsupported transport type: %q", opts.Transport)
	}
	if err != nil {
		if c != nil {
			_ = c.Close()
		}
		return fmt.Errorf("connect %s: %w", opts.ServerName, err)
	}
	return h.add(ctx, opts.ServerName, c)
}

// ConnectInProcess 直接连接同进程内的 MCP 服务端。
func (h *Host) ConnectInProcess(ctx context.Context, name string, s *server.MCPServer) error {
	c, err := client.NewInProcessClient(s)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return err
	}
	return h.add(ctx, name, c)
}

func (h *Host) add(ctx context.Context, name string, c *client.Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.servers[name]; exists {
		_ = c.Close()
		return fmt.Errorf("server with name '%s' already connected", name)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "ragctl", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to initialize client: %w", err)
	}
	h.servers[name] = c
	return nil
}

// Tools 返回每个服务端的工具列表。单个服务端失败不影响其他服务端。
func (h *Host) Tools(ctx context.Context) (map[string][]mcp.Tool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string][]mcp.Tool, len(h.servers))
	var errs []error
	for name, c := range h.servers {
		res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out[name] = res.Tools
	}
	return out, errors.Join(errs...)
}

// Call 在提供该工具的服务端上调用它。服务端按名称排序查找。
func (h *Host) Call(ctx context.Context, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	all, err := h.Tools(ctx)
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, t := range all[name] {
			if t.Name != tool {
				continue
			}
			h.mu.RLock()
			c := h.servers[name]
			h.mu.RUnlock()

			req := mcp.CallToolRequest{}
			req.Params.Name = tool
			req.Params.Arguments = args
			return c.CallTool(ctx, req)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%v)", ErrToolNotFound, tool, err)
	}
	return nil, fmt.Errorf("%w: %s", ErrToolNotFound, tool)
}

// Close 关闭所有连接。
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for _, c := range h.servers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.servers = make(map[string]*client.Client)
	return errors.Join(errs...)
}

// ResultText 拼接结果中的文本内容。
func ResultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
