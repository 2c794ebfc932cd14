package transport

import (
	"errors"
	"net/netip"
	"sync"

	"github.com/dep2p/go-siptransport/pkg/types"
)

// 软锁键：每个 (租户, 协议, IP, 端口, 资源) 一把锁
type lockKey struct {
	tenant   types.Tenant
	proto    types.Protocol
	ip       netip.Addr
	port     uint16
	resource string
}

// errLockClosed 锁表已关闭
var errLockClosed = errors.New("soft lock table closed")

// SoftLock 连接建立软锁表
//
// 进程级的协作互斥标记，仅在连接建立期间使用：拨号前创建，
// 尝试结束后移除（成功、失败或本地故障都会释放）。只防止
// 冗余的并发建立，不是通用互斥量。
type SoftLock struct {
	mu     sync.Mutex
	held   map[lockKey]struct{}
	closed bool
}

// NewSoftLock 创建软锁表
func NewSoftLock() *SoftLock {
	return &SoftLock{
		held: make(map[lockKey]struct{}),
	}
}

// TryAcquire 原子地尝试创建锁条目
//
// 返回是否获取成功；锁表已关闭时返回错误。
func (s *SoftLock) TryAcquire(key lockKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, errLockClosed
	}
	if _, held := s.held[key]; held {
		return false, nil
	}
	s.held[key] = struct{}{}
	return true, nil
}

// Release 释放锁条目（幂等）
func (s *SoftLock) Release(key lockKey) {
	s.mu.Lock()
	delete(s.held, key)
	s.mu.Unlock()
}

// Close 关闭锁表，后续获取一律失败
func (s *SoftLock) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
