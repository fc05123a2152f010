package util

import (
	"container/list"
	"strconv"
	"sync"

	"github.com/ariebrainware/incident-watch/authstate"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const defaultEmailCacheSize = 1000

type emailItem struct {
	userID uint
	email  string
}

// emailCache is a bounded, least-recently-used map of user id to email. It labels
// audit rows and online users without a users lookup per request.
type emailCache struct {
	mu       sync.Mutex
	order    *list.List
	items    map[uint]*list.Element
	capacity int
}

func newEmailCache(capacity int) *emailCache {
	if capacity <= 0 {
		capacity = defaultEmailCacheSize
	}
	return &emailCache{order: list.New(), items: make(map[uint]*list.Element), capacity: capacity}
}

func (c *emailCache) get(userID uint) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[userID]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(emailItem).email, true
}

func (c *emailCache) put(userID uint, email string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := emailItem{userID: userID, email: email}
	if el, ok := c.items[userID]; ok {
		el.Value = item
		c.order.MoveToFront(el)
		return
	}
	c.items[userID] = c.order.PushFront(item)
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(emailItem).userID)
	}
}

func (c *emailCache) remove(userID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[userID]; ok {
		c.order.Remove(el)
		delete(c.items, userID)
	}
}

var (
	userCache    *emailCache
	emailLookups singleflight.Group
)

// InitUserEmailCache replaces the cache with an empty one holding up to capacity
// entries (1000 when capacity <= 0).
func InitUserEmailCache(capacity int) {
	userCache = newEmailCache(capacity)
}

func UserEmailCacheGet(userID uint) (string, bool) {
	if userCache == nil {
		return "", false
	}
	return userCache.get(userID)
}

func UserEmailCacheSet(userID uint, email string) {
	if userCache != nil {
		userCache.put(userID, email)
	}
}

func UserEmailCacheDelete(userID uint) {
	if userCache != nil {
		userCache.remove(userID)
	}
}

// GetUserEmail resolves userID to an email, reading through the cache. Concurrent misses
// for the same user share one query. Unknown users yield "".
func GetUserEmail(db *gorm.DB, userID uint) string {
	if userID == 0 {
		return ""
	}
	if email, ok := UserEmailCacheGet(userID); ok {
		return email
	}
	if db == nil {
		return ""
	}
	v, _, _ := emailLookups.Do(strconv.FormatUint(uint64(userID), 10), func() (interface{}, error) {
		var row struct{ Email string }
		if err := db.Table("users").Select("email").Where("id = ?", userID).Take(&row).Error; err != nil {
			return "", err
		}
		if row.Email != "" {
			UserEmailCacheSet(userID, row.Email)
		}
		return row.Email, nil
	})
	email, _ := v.(string)
	return email
}

// SubscribeUserEmailCache keeps the cache in step with session events: sign-ins refresh
// the entry and sign-outs drop it.
func SubscribeUserEmailCache(b *authstate.Broadcaster) (unsubscribe func()) {
	return b.Subscribe(func(ev authstate.Event) {
		switch ev.Type {
		case authstate.SignedIn, authstate.TokenRefreshed:
			if ev.Email != "" {
				UserEmailCacheSet(ev.UserID, ev.Email)
			}
		case authstate.SignedOut:
			UserEmailCacheDelete(ev.UserID)
		}
	})
}
