package endpoint

import (
	"log"
	"sync"
	"time"

	"github.com/ariebrainware/incident-watch/authstate"
	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/permission"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const onlineQueueSize = 256

// OnlineTracker keeps the online_users table in step with session events. Events are
// queued so Publish never waits on the database.
type OnlineTracker struct {
	db          *gorm.DB
	events      chan authstate.Event
	unsubscribe func()
	done        chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewOnlineTracker subscribes to b and starts the writer goroutine. Call Close on shutdown.
func NewOnlineTracker(db *gorm.DB, b *authstate.Broadcaster) *OnlineTracker {
	t := &OnlineTracker{
		db:     db,
		events: make(chan authstate.Event, onlineQueueSize),
		done:   make(chan struct{}),
	}
	go t.run()
	t.unsubscribe = b.Subscribe(t.enqueue)
	return t
}

func (t *OnlineTracker) enqueue(ev authstate.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		log.Printf("[Online] queue full, dropping %s for user %d", ev.Type, ev.UserID)
	}
}

func (t *OnlineTracker) run() {
	defer close(t.done)
	for ev := range t.events {
		if err := t.apply(ev); err != nil {
			log.Printf("[Online] failed to record %s for user %d: %v", ev.Type, ev.UserID, err)
		}
	}
}

func (t *OnlineTracker) apply(ev authstate.Event) error {
	if ev.Type == authstate.SignedOut {
		return t.db.Where("user_id = ?", ev.UserID).Delete(&model.OnlineUser{}).Error
	}
	row := model.OnlineUser{UserID: ev.UserID, Email: ev.Email, ClientIP: ev.ClientIP, LastSeenAt: ev.At}
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "client_ip", "last_seen_at"}),
	}).Create(&row).Error
}

// Close unsubscribes and waits for queued events to be written.
func (t *OnlineTracker) Close() {
	t.unsubscribe()
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.events)
	}
	t.mu.Unlock()
	<-t.done
}

// onlineWindow hides rows whose session has certainly expired.
var onlineWindow = util.SessionTTL

// ListOnlineUsers godoc
// @Summary      Online users
// @Description  Users with a sign-in or token refresh inside the session lifetime, most recent first. Moderators see their company only.
// @Tags         Admin
// @Produce      json
// @Security     SessionToken
// @Success      200 {object} util.APIResponse{data=[]model.OnlineUser} "Online users"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Router       /admin/online-users [get]
func ListOnlineUsers(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	actor, ok := requireProfile(c)
	if !ok {
		return
	}
	query := db.WithContext(c.Request.Context()).Model(&model.OnlineUser{}).
		Where("last_seen_at > ?", time.Now().Add(-onlineWindow))
	query = applyUserIDScope(db, query, permission.ScopeFor(actor))

	var rows []model.OnlineUser
	err := query.Order("last_seen_at DESC").Find(&rows).Error
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve online users", Err: err})
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Online users retrieved", Data: rows})
}
