// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ariebrainware/incident-watch/authstate"
	"github.com/ariebrainware/incident-watch/config"
	"github.com/ariebrainware/incident-watch/endpoint"
	"github.com/ariebrainware/incident-watch/geocode"
	"github.com/ariebrainware/incident-watch/middleware"
	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/report"
	"github.com/ariebrainware/incident-watch/storage"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func main() {
	// Load the configuration
	cfg := config.LoadConfig()

	secret := os.Getenv("JWTSECRET")
	if secret == "" && !cfg.IsTest() {
		log.Fatal("JWTSECRET must be set")
	}
	util.SetJWTSecret(secret)

	db, err := config.ConnectDatabase()
	if err != nil {
		log.Fatalf("Error connecting to database: %v", err)
	}
	if err := db.AutoMigrate(model.AllModels...); err != nil {
		log.Fatalf("Error migrating database: %v", err)
	}
	seedAdmin(db, cfg)

	if _, err := config.ConnectRedis(); err != nil {
		log.Printf("Redis unavailable, using database sessions and in-process rate limiting: %v", err)
	}

	setupGeoIP(cfg)
	defer util.CloseGeoIP()

	util.InitUserEmailCache(cfg.UserEmailCacheSize)
	util.SetAuditLoggerDB(db)

	broadcaster := authstate.NewBroadcaster()
	defer util.SubscribeUserEmailCache(broadcaster)()
	tracker := endpoint.NewOnlineTracker(db, broadcaster)
	defer tracker.Close()

	svc := &middleware.Services{
		Broadcaster: broadcaster,
		Limits:      report.Limits{MaxImages: cfg.MaxImages, MaxImageBytes: cfg.MaxImageBytes},
	}
	if cfg.Storage.Enabled() {
		store, err := storage.NewS3Store(context.Background(), cfg.Storage)
		if err != nil {
			log.Printf("Object storage disabled: %v", err)
		} else {
			svc.Store = store
		}
	} else {
		log.Printf("Object storage not configured, image uploads are disabled")
	}
	if cfg.GeocoderURL != "" {
		svc.Geocoder = geocode.NewClient(cfg.GeocoderURL, geocode.DefaultTimeout)
	}

	// Set Gin mode from config
	gin.SetMode(cfg.GinMode)
	router := endpoint.NewRouter(db, svc, endpoint.RouterOptions{
		AppName:          cfg.AppName,
		LogEndpointCalls: cfg.LogEndpointCalls,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AppPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("error starting server: %v", err)
		}
	}()
	log.Printf("%s listening on %s", cfg.AppName, srv.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down server: %v", err)
	}
}

// seedAdmin makes sure the configured admin account exists and is approved.
func seedAdmin(db *gorm.DB, cfg *config.Config) {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return
	}
	salt, err := util.GenerateSalt()
	if err != nil {
		log.Fatalf("Error seeding admin: %v", err)
	}
	profile, err := model.SeedAdmin(db, cfg.AdminEmail, "Administrator", util.HashPasswordArgon2(cfg.AdminPassword, salt), salt)
	if err != nil {
		log.Fatalf("Error seeding admin: %v", err)
	}
	log.Printf("Admin account %s ready (id %d)", profile.Email, profile.ID)
}

// setupGeoIP downloads the GeoIP database when a URL is configured and opens it.
// Audit logs simply go without locations when this fails.
func setupGeoIP(cfg *config.Config) {
	path := cfg.GeoIPDBPath
	if cfg.GeoIPDBURL != "" {
		if path == "" {
			path = filepath.Join(os.TempDir(), "GeoLite2-City.mmdb")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		downloaded, err := util.DownloadGeoIPWithRequest(ctx, util.DownloadRequest{URL: cfg.GeoIPDBURL, DestPath: path})
		if err != nil {
			log.Printf("GeoIP download failed: %v", err)
		} else {
			path = downloaded
		}
	}
	if path == "" {
		return
	}
	if err := util.ValidateGeoIP(path); err != nil {
		log.Printf("GeoIP database unusable: %v", err)
		return
	}
	if err := util.InitGeoIP(path); err != nil {
		log.Printf("GeoIP init failed: %v", err)
	}
}
