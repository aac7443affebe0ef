package memory

import "sync"

// keyLock 按键互斥：同键调用串行，异键互不阻塞。
// 写入流水线用它把去重检查与首次落库圈在同一临界区内，
// 键为 namespace 与内容哈希的组合，命名空间之间永不竞争.
type keyLock struct {
	mu      sync.Mutex
	entries map[string]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{entries: make(map[string]*keyLockEntry)}
}

// Lock 获取键对应的互斥锁，不存在时创建.
func (k *keyLock) Lock(key string) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyLockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

// Unlock 释放键锁；最后一个持有者离开时回收条目.
func (k *keyLock) Unlock(key string) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		k.mu.Unlock()
		panic("memory: unlock of unheld key " + key)
	}
	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()

	entry.mu.Unlock()
}

// dedupKey 组合写入临界区的锁键.
func dedupKey(namespace, contentHash string) string {
	return namespace + "\x00" + contentHash
}
