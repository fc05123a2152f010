package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testBase = "https://cdn.test/storage"

var (
	pngHead  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegHead = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
	gifHead  = []byte("GIF89a\x01\x00\x01\x00")
)

func pngImage(name string) Image {
	return FromBytes(name, append(append([]byte{}, pngHead...), []byte(name)...))
}

func pngImages(n int) []Image {
	out := make([]Image, n)
	for i := range out {
		out[i] = pngImage(fmt.Sprintf("img%02d.png", i))
	}
	return out
}

type fakeStore struct {
	mu       sync.Mutex
	puts     []storage.Object
	contents map[string]string
	deleted  []string
	failOn   string
	delay    func(name string) time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{contents: map[string]string{}}
}

func (f *fakeStore) Put(ctx context.Context, obj storage.Object) (string, error) {
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return "", err
	}
	name := string(bytes.TrimPrefix(data, pngHead))
	if f.delay != nil {
		time.Sleep(f.delay(name))
	}
	if f.failOn != "" && strings.Contains(name, f.failOn) {
		return "", errors.New("upload rejected")
	}
	u := storage.PublicURL(testBase, obj.Bucket, obj.Key)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, obj)
	f.contents[u] = name
	return u, nil
}

func (f *fakeStore) Delete(ctx context.Context, publicURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, publicURL)
	return nil
}

func (f *fakeStore) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func (f *fakeStore) names(urls []string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = f.contents[u]
	}
	return out
}

type fakeGeocoder struct {
	name  string
	err   error
	calls int
}

func (g *fakeGeocoder) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	g.calls++
	return g.name, g.err
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb_report_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.Profile{}, &model.VehicleAlert{}, &model.CrimeReport{}); err != nil {
		t.Fatalf("failed to auto-migrate models: %v", err)
	}
	return db
}

func approvedProfile(t *testing.T, db *gorm.DB, id uint, role model.Role, company *uint) model.Profile {
	t.Helper()
	p := model.NewProfile(model.Identity{UserID: id, Email: fmt.Sprintf("u%d@example.com", id)})
	p.Role = role
	p.CompanyID = company
	p.SetStatus(model.ProfileStatusApproved)
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("failed to create profile: %v", err)
	}
	return p
}

func validVehicle() VehicleInput {
	return VehicleInput{
		LicensePlate: "ca 12 ab",
		Make:         "Toyota",
		Model:        "Corolla",
		Color:        "Silver",
		Reason:       "Stolen from driveway",
		Severity:     "high",
	}
}

func validCrime() CrimeInput {
	return CrimeInput{
		Title:       "Shop break-in",
		Description: "Window smashed overnight",
		Location:    "Market Street",
		ReportType:  "burglary",
		Severity:    "medium",
	}
}

func floatPtr(v float64) *float64 { return &v }
