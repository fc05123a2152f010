package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"

	defaultMaxImages          = 10
	defaultMaxImageBytes      = 5 << 20
	defaultUserEmailCacheSize = 1000
)

// Config holds the application's configuration values.
type Config struct {
	AppName   string `json:"appname"`
	AppEnv    string `json:"appenv"`
	AppPort   uint16 `json:"appport"`
	GinMode   string `json:"ginmode"`
	DBDriver  string `json:"dbdriver"`
	DBHost    string `json:"dbhost"`
	DBPort    uint16 `json:"dbport"`
	DBName    string `json:"dbname"`
	DBUSER    string `json:"dbuser"`
	DBPass    string `json:"dbpass"`
	DBSSLMode string `json:"dbsslmode"`

	RedisEnabled bool   `json:"redis_enabled"`
	RedisAddr    string `json:"redis_addr"`
	RedisPass    string `json:"-"`
	RedisDB      int    `json:"redis_db"`

	Storage StorageConfig `json:"storage"`

	GeocoderURL string `json:"geocoder_url"`
	GeoIPDBPath string `json:"geoip_db_path"`
	GeoIPDBURL  string `json:"geoip_db_url"`

	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"-"`

	MaxImages          int   `json:"max_images"`
	MaxImageBytes      int64 `json:"max_image_bytes"`
	UserEmailCacheSize int   `json:"user_email_cache_size"`
	LogEndpointCalls   bool  `json:"log_endpoint_calls"`
}

// IsTest reports whether the application runs with APPENV=test.
func (c *Config) IsTest() bool {
	return c.AppEnv == "test"
}

var config *Config
var once sync.Once

// LoadConfig loads the environment variables from an optional .env file, and returns a singleton Config instance.
func LoadConfig() *Config {
	once.Do(func() {
		// A missing .env is fine; containers configure through the environment.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Printf("Error loading .env file: %v", err)
		}

		appPort, _ := strconv.ParseUint(os.Getenv("APPPORT"), 10, 16)
		if appPort == 0 {
			appPort = 8080
		}
		dbPort, _ := strconv.ParseUint(os.Getenv("DBPORT"), 10, 16)

		config = &Config{
			AppName:   getEnv("APPNAME", "incident-watch"),
			AppEnv:    os.Getenv("APPENV"),
			AppPort:   uint16(appPort),
			GinMode:   getEnv("GINMODE", "release"),
			DBDriver:  strings.ToLower(getEnv("DBDRIVER", DriverMySQL)),
			DBHost:    os.Getenv("DBHOST"),
			DBPort:    uint16(dbPort),
			DBName:    os.Getenv("DBNAME"),
			DBUSER:    os.Getenv("DBUSER"),
			DBPass:    os.Getenv("DBPASS"),
			DBSSLMode: getEnv("DBSSLMODE", "disable"),

			RedisEnabled: os.Getenv("REDIS_ENABLED") == "true",
			RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPass:    os.Getenv("REDIS_PASSWORD"),
			RedisDB:      getEnvInt("REDIS_DB", 0),

			Storage: loadStorageConfig(),

			GeocoderURL: os.Getenv("GEOCODER_URL"),
			GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),
			GeoIPDBURL:  os.Getenv("GEOIP_DB_URL"),

			AdminEmail:    os.Getenv("ADMIN_EMAIL"),
			AdminPassword: os.Getenv("ADMIN_PASSWORD"),

			MaxImages:          getEnvInt("MAX_IMAGES", defaultMaxImages),
			MaxImageBytes:      int64(getEnvInt("MAX_IMAGE_BYTES", defaultMaxImageBytes)),
			UserEmailCacheSize: getEnvInt("USER_EMAIL_CACHE_SIZE", defaultUserEmailCacheSize),
			LogEndpointCalls:   os.Getenv("LOG_ENDPOINT_CALLS") == "true",
		}
	})
	return config
}

// ResetConfigForTest drops the cached Config so the next LoadConfig re-reads the environment.
// Only meant for tests.
func ResetConfigForTest() {
	config = nil
	once = sync.Once{}
}

// ConnectDatabase opens the gorm connection for the configured driver. With APPENV=test
// it returns a shared in-memory sqlite database instead.
func ConnectDatabase() (*gorm.DB, error) {
	cfg := LoadConfig()
	gormCfg := &gorm.Config{TranslateError: true}

	if cfg.IsTest() {
		return gorm.Open(sqlite.Open("file:incident_watch_test?mode=memory&cache=shared"), gormCfg)
	}

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case DriverPostgres:
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
			cfg.DBHost, cfg.DBUSER, cfg.DBPass, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
		dialector = postgres.Open(dsn)
	case DriverMySQL:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.DBUSER, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported DBDRIVER %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
