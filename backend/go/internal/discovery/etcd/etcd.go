// Package etcd 基于 etcd 租约实现服务注册与发现。
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/pkg/logger"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// keyPrefix 是所有服务注册键的公共前缀。
const keyPrefix = "/docsage/services/"

// Endpoint 描述一个已注册的服务实例。
type Endpoint struct {
	Instance    string `json:"instance"`
	HTTPAddress string `json:"http_address,omitempty"`
	GRPCAddress string `json:"grpc_address,omitempty"`
	Version     string `json:"version,omitempty"`
}

// ServiceDiscovery 负责注册本实例并查询其他实例。
type ServiceDiscovery struct {
	cli *clientv3.Client
	ttl int64
	log *logger.Logger

	mu      sync.Mutex
	leaseID clientv3.LeaseID
	key     string
}

// NewServiceDiscovery 根据配置连接 etcd。
func NewServiceDiscovery(cfg config.EtcdConfig, log *logger.Logger) (*ServiceDiscovery, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints 未配置")
	}
	if log == nil {
		log = logger.Discard()
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("连接 etcd 失败: %w", err)
	}
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = 10
	}
	return &ServiceDiscovery{cli: cli, ttl: ttl, log: log.Named("discovery")}, nil
}

// serviceKey 返回实例的注册键。
func serviceKey(service, instance string) string {
	return keyPrefix + service + "/" + instance
}

// Register 以租约写入实例信息并在后台续约，ctx 结束后停止续约。
// 续约通道关闭（租约过期或连接断开）时只记录日志，由 etcd 自动清理键。
func (s *ServiceDiscovery) Register(ctx context.Context, service string, ep Endpoint) error {
	value, err := json.Marshal(ep)
	if err != nil {
		return err
	}
	lease, err := s.cli.Grant(ctx, s.ttl)
	if err != nil {
		return fmt.Errorf("申请租约失败: %w", err)
	}
	key := serviceKey(service, ep.Instance)
	if _, err := s.cli.Put(ctx, key, string(value), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("写入注册信息失败: %w", err)
	}
	keepAlive, err := s.cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("续约失败: %w", err)
	}

	s.mu.Lock()
	s.leaseID, s.key = lease.ID, key
	s.mu.Unlock()

	go func() {
		for range keepAlive {
		}
		if ctx.Err() == nil {
			s.log.WithField("key", key).Warn("etcd lease keep-alive stopped")
		}
	}()
	s.log.WithField("key", key).Info("Service registered")
	return nil
}

// Deregister 撤销租约，注册键随之删除。
func (s *ServiceDiscovery) Deregister(ctx context.Context) error {
	s.mu.Lock()
	id, key := s.leaseID, s.key
	s.leaseID, s.key = 0, ""
	s.mu.Unlock()

	if id == 0 {
		return nil
	}
	if _, err := s.cli.Revoke(ctx, id); err != nil {
		return fmt.Errorf("撤销租约失败: %w", err)
	}
	s.log.WithField("key", key).Info("Service deregistered")
	return nil
}

// Discover 返回某个服务当前所有实例。
func (s *ServiceDiscovery) Discover(ctx context.Context, service string) ([]Endpoint, error) {
	resp, err := s.cli.Get(ctx, keyPrefix+service+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	eps := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ep, err := decodeEndpoint(string(kv.Key), kv.Value)
		if err != nil {
			s.log.WithErr(err).WithField("key", string(kv.Key)).Warn("Skipping malformed registration")
			continue
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// decodeEndpoint 解析注册值，兼容只写了地址字符串的旧格式。
func decodeEndpoint(key string, value []byte) (Endpoint, error) {
	var ep Endpoint
	if err := json.Unmarshal(value, &ep); err != nil {
		addr := strings.TrimSpace(string(value))
		if addr == "" || strings.ContainsAny(addr, "{}") {
			return Endpoint{}, err
		}
		ep = Endpoint{HTTPAddress: addr}
	}
	if ep.Instance == "" {
		ep.Instance = key[strings.LastIndex(key, "/")+1:]
	}
	return ep, nil
}

// Close 关闭 etcd 客户端。
func (s *ServiceDiscovery) Close() error {
	return s.cli.Close()
}
