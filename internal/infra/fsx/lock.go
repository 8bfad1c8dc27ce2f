package fsx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName 是数据目录下的运行锁文件名。
const LockFileName = ".moviecsv.lock"

// ErrLocked 表示另一个进程正持有同一数据目录的运行锁。
var ErrLocked = errors.New("数据目录已被另一个运行占用")

// RunLock 是数据目录级别的咨询锁：apply 模式下防止两个运行同时写同一批产物。
type RunLock struct {
	fl *flock.Flock
}

// TryLock 尝试获取 <dir>/.moviecsv.lock，不阻塞。
// 被占用时返回 ErrLocked；其它错误原样返回。
func TryLock(dir string) (*RunLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(filepath.Clean(dir), LockFileName)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("获取运行锁失败 %q：%w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w：%s", ErrLocked, path)
	}
	return &RunLock{fl: fl}, nil
}

// Unlock 释放锁；nil 安全。
func (l *RunLock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
