package middleware

import (
	"github.com/ariebrainware/incident-watch/authstate"
	"github.com/ariebrainware/incident-watch/report"
	"github.com/ariebrainware/incident-watch/storage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const servicesKey = "services"

// Services are the process-wide collaborators handlers need besides the database.
// Store and Geocoder are nil when not configured.
type Services struct {
	Store       storage.Store
	Geocoder    report.Geocoder
	Broadcaster *authstate.Broadcaster
	Limits      report.Limits
}

// Submitter returns a report submitter bound to db.
func (s *Services) Submitter(db *gorm.DB) *report.Submitter {
	return &report.Submitter{DB: db, Store: s.Store, Geocoder: s.Geocoder, Limits: s.Limits}
}

// Publish forwards ev to the broadcaster when one is configured.
func (s *Services) Publish(ev authstate.Event) {
	if s.Broadcaster != nil {
		s.Broadcaster.Publish(ev)
	}
}

// ServicesMiddleware makes s available to handlers through GetServices.
func ServicesMiddleware(s *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(servicesKey, s)
		c.Next()
	}
}

// GetServices returns the services set by ServicesMiddleware. Without one, handlers get an
// empty set: no storage, no geocoder, no broadcaster.
func GetServices(c *gin.Context) *Services {
	if v, ok := c.Get(servicesKey); ok {
		if s, ok := v.(*Services); ok && s != nil {
			return s
		}
	}
	return &Services{}
}
