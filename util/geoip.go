package util

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/oschwald/geoip2-golang"
	cache "github.com/patrickmn/go-cache"
)

var (
	geoipDB        *geoip2.Reader
	geoipCache     *cache.Cache
	geoipCacheHits int64
	geoipCacheMiss int64
)

// InitGeoIP opens the GeoIP2/GeoLite2 database at dbPath and sets up the lookup cache.
// An empty dbPath is a no-op.
func InitGeoIP(dbPath string) error {
	if dbPath == "" {
		return nil
	}
	r, err := geoip2.Open(dbPath)
	if err != nil {
		return err
	}
	geoipDB = r
	// Cache entries for 24h, purge every hour
	geoipCache = cache.New(24*time.Hour, 1*time.Hour)
	return nil
}

// CloseGeoIP closes the GeoIP DB if opened.
func CloseGeoIP() {
	if geoipDB != nil {
		_ = geoipDB.Close()
		geoipDB = nil
	}
}

// DownloadRequest describes where to fetch a GeoIP database from and where to put it.
type DownloadRequest struct {
	URL      string
	DestPath string
}

// DownloadGeoIPWithRequest downloads an MMDB file to req.DestPath, decompressing it when
// the URL ends in .gz. The file is written to a temp file first and renamed into place.
func DownloadGeoIPWithRequest(ctx context.Context, req DownloadRequest) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download, status: %d", resp.StatusCode)
	}

	dir := filepath.Dir(req.DestPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmpFile, err := os.CreateTemp(dir, "geoip-*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmpFile.Name()
	ok := false
	defer func() {
		_ = tmpFile.Close()
		if !ok {
			_ = os.Remove(tmpName)
		}
	}()

	var body io.Reader = resp.Body
	if filepath.Ext(req.URL) == ".gz" {
		gzReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", err
		}
		defer gzReader.Close()
		body = gzReader
	}
	if _, err := io.Copy(tmpFile, body); err != nil {
		return "", err
	}
	if err := tmpFile.Sync(); err != nil {
		return "", err
	}
	if err := tmpFile.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, req.DestPath); err != nil {
		return "", err
	}
	ok = true
	return req.DestPath, nil
}

// ValidateGeoIP attempts to open the MMDB file to ensure it's a valid DB.
func ValidateGeoIP(path string) error {
	r, err := geoip2.Open(path)
	if err != nil {
		return err
	}
	_ = r.Close()
	return nil
}

// IPLocation is the resolved place of an IP address.
type IPLocation struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// String formats the location as "City/Country", or whichever part is known.
func (l IPLocation) String() string {
	switch {
	case l.City != "" && l.Country != "":
		return l.City + "/" + l.Country
	case l.Country != "":
		return l.Country
	default:
		return l.City
	}
}

// GetIPLocation resolves ip with the local GeoIP database and an in-memory cache.
// It returns an empty location for private addresses or when no database is loaded.
func GetIPLocation(ip string) IPLocation {
	if ip == "" {
		return IPLocation{}
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() || parsed.IsLinkLocalUnicast() {
		return IPLocation{}
	}

	if geoipCache != nil {
		if v, ok := geoipCache.Get(ip); ok {
			atomic.AddInt64(&geoipCacheHits, 1)
			if loc, ok := v.(IPLocation); ok {
				return loc
			}
		}
	}
	atomic.AddInt64(&geoipCacheMiss, 1)

	if geoipDB == nil {
		return IPLocation{}
	}

	rec, err := geoipDB.City(parsed)
	if err != nil {
		return IPLocation{}
	}

	loc := IPLocation{}
	if rec.City.Names != nil {
		loc.City = rec.City.Names["en"]
	}
	if rec.Country.Names != nil {
		loc.Country = rec.Country.Names["en"]
	}
	if loc.Country == "" {
		loc.Country = rec.Country.IsoCode
	}

	if geoipCache != nil {
		geoipCache.Set(ip, loc, cache.DefaultExpiration)
		auditLogger.Printf("GeoIP cached for %s -> %s", ip, loc)
	}
	return loc
}

// GetGeoIPCacheMetrics returns the cache hits and misses and current cache size.
func GetGeoIPCacheMetrics() (hits int64, misses int64, size int) {
	hits = atomic.LoadInt64(&geoipCacheHits)
	misses = atomic.LoadInt64(&geoipCacheMiss)
	if geoipCache != nil {
		return hits, misses, geoipCache.ItemCount()
	}
	return hits, misses, 0
}
