package dbstorage

import (
	"github.com/moby/locker"
)

// lockKeys 按参数顺序依次加锁，返回的函数按相反顺序解锁
// 所有调用方必须使用相同的key顺序（先url后hash），否则可能死锁
func lockKeys(l *locker.Locker, keys ...string) func() {
	for _, key := range keys {
		l.Lock(key)
	}
	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			// 只会解锁自己持有的key，不会出错
			_ = l.Unlock(keys[i])
		}
	}
}
