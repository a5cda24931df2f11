package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// FileQueue 文件队列：每次操作都在文件锁内读取最新快照，修改后写临时文件再 rename
// 推送中继和看板服务可以在同一台机器上共用一个队列文件
type FileQueue struct {
	path     string
	lockPath string
	mu       sync.Mutex
}

type fileQueueState struct {
	Items []QueuedMessage `json:"items"`
}

// NewFileQueue 打开（或创建）文件队列
func NewFileQueue(path string) (*FileQueue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("file queue path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	q := &FileQueue{path: path, lockPath: path + ".lock"}
	// 校验已有文件可以解析
	if err := q.withLock(unix.LOCK_SH, func(map[string]QueuedMessage) (bool, error) {
		return false, nil
	}); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *FileQueue) Enqueue(ctx context.Context, msg QueuedMessage) error {
	if strings.TrimSpace(msg.ID) == "" {
		return ErrInvalidMessage
	}
	return q.withLock(unix.LOCK_EX, func(items map[string]QueuedMessage) (bool, error) {
		if _, exists := items[msg.ID]; exists {
			return false, nil
		}
		items[msg.ID] = msg
		return true, nil
	})
}

func (q *FileQueue) ListAll(ctx context.Context) ([]QueuedMessage, error) {
	var msgs []QueuedMessage
	err := q.withLock(unix.LOCK_SH, func(items map[string]QueuedMessage) (bool, error) {
		msgs = make([]QueuedMessage, 0, len(items))
		for _, m := range items {
			msgs = append(msgs, m)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	sortByReceivedAt(msgs)
	return msgs, nil
}

func (q *FileQueue) RemoveMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return q.withLock(unix.LOCK_EX, func(items map[string]QueuedMessage) (bool, error) {
		removed := false
		for _, id := range ids {
			if _, ok := items[id]; ok {
				delete(items, id)
				removed = true
			}
		}
		return removed, nil
	})
}

// Depth 当前队列长度
func (q *FileQueue) Depth(ctx context.Context) (int64, error) {
	var n int64
	err := q.withLock(unix.LOCK_SH, func(items map[string]QueuedMessage) (bool, error) {
		n = int64(len(items))
		return false, nil
	})
	return n, err
}

func (q *FileQueue) Close() error {
	return nil
}

// withLock 持有进程内互斥和文件锁执行 fn；fn 返回 true 时把修改写回文件
// 写回要求 how 为 LOCK_EX
func (q *FileQueue) withLock(how int, fn func(items map[string]QueuedMessage) (bool, error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	lock, err := os.OpenFile(q.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open queue lock: %w", err)
	}
	defer lock.Close()

	if err := unix.Flock(int(lock.Fd()), how); err != nil {
		return fmt.Errorf("failed to lock queue file: %w", err)
	}
	defer unix.Flock(int(lock.Fd()), unix.LOCK_UN)

	items, err := q.read()
	if err != nil {
		return err
	}
	changed, err := fn(items)
	if err != nil || !changed {
		return err
	}
	if how != unix.LOCK_EX {
		return errors.New("queue file modified under a shared lock")
	}
	return q.write(items)
}

func (q *FileQueue) read() (map[string]QueuedMessage, error) {
	items := make(map[string]QueuedMessage)
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return items, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return items, nil
	}
	var state fileQueueState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode queue file %s: %w", q.path, err)
	}
	for _, m := range state.Items {
		if m.ID != "" {
			items[m.ID] = m
		}
	}
	return items, nil
}

func (q *FileQueue) write(items map[string]QueuedMessage) error {
	state := fileQueueState{Items: make([]QueuedMessage, 0, len(items))}
	for _, m := range items {
		state.Items = append(state.Items, m)
	}
	sortByReceivedAt(state.Items)

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
