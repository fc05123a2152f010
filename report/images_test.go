package report

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/ariebrainware/incident-watch/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectImages_TruncatesToLimit(t *testing.T) {
	files := pngImages(11)
	accepted, dropped, err := SelectImages(files, Limits{})
	require.NoError(t, err)
	assert.Len(t, accepted, 10)
	assert.Equal(t, []string{"img10.png"}, dropped)
}

func TestSelectImages_DroppedFilesAreNeverRead(t *testing.T) {
	files := pngImages(2)
	files = append(files, Image{Name: "unreadable.png", Size: 1})
	accepted, dropped, err := SelectImages(files, Limits{MaxImages: 2})
	require.NoError(t, err)
	assert.Len(t, accepted, 2)
	assert.Equal(t, []string{"unreadable.png"}, dropped)
}

func TestSelectImages_ChecksTypeAndSize(t *testing.T) {
	tests := []struct {
		name string
		img  Image
	}{
		{"bad extension", FromBytes("notes.txt", pngHead)},
		{"bad content", FromBytes("fake.png", []byte("<html><script></script></html>"))},
		{"too large", FromBytes("big.jpg", append(append([]byte{}, jpegHead...), make([]byte, 64)...))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := SelectImages([]Image{tt.img}, Limits{MaxImageBytes: 32})
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, "images[0]")
		})
	}
}

func TestSelectImages_SniffsContentType(t *testing.T) {
	accepted, _, err := SelectImages([]Image{
		FromBytes("a.JPG", jpegHead),
		FromBytes("b.gif", gifHead),
		pngImage("c.png"),
	}, Limits{})
	require.NoError(t, err)
	require.Len(t, accepted, 3)
	assert.Equal(t, "image/jpeg", accepted[0].ContentType())
	assert.Equal(t, "image/gif", accepted[1].ContentType())
	assert.Equal(t, "image/png", accepted[2].ContentType())
}

func TestUploadImages_PreservesOrder(t *testing.T) {
	store := newFakeStore()
	// the first image finishes last
	store.delay = func(name string) time.Duration {
		if name == "img00.png" {
			return 30 * time.Millisecond
		}
		return 0
	}
	images := pngImages(3)

	urls, err := UploadImages(context.Background(), store, storage.BucketVehicleEvidence, 12, images)
	require.NoError(t, err)
	assert.Equal(t, []string{"img00.png", "img01.png", "img02.png"}, store.names(urls))

	keyPattern := regexp.MustCompile(`^12/[0-9a-f-]{36}\.png$`)
	for _, obj := range store.puts {
		assert.Equal(t, storage.BucketVehicleEvidence, obj.Bucket)
		assert.Regexp(t, keyPattern, obj.Key)
	}
	for _, u := range urls {
		assert.True(t, strings.HasPrefix(u, testBase+"/vehicle-evidence/12/"))
	}
}

func TestUploadImages_PartialFailure(t *testing.T) {
	store := newFakeStore()
	store.failOn = "img01"
	urls, err := UploadImages(context.Background(), store, storage.BucketReportImages, 1, pngImages(1))
	require.NoError(t, err)
	assert.Len(t, urls, 1)

	urls, err = UploadImages(context.Background(), store, storage.BucketReportImages, 1, pngImages(2))
	assert.Error(t, err)
	assert.LessOrEqual(t, len(urls), 1)
}

func TestUploadImages_EmptyIsNotNil(t *testing.T) {
	urls, err := UploadImages(context.Background(), newFakeStore(), storage.BucketReportImages, 1, nil)
	require.NoError(t, err)
	assert.NotNil(t, urls)
	assert.Empty(t, urls)
}

func TestReconcileImages(t *testing.T) {
	got := ReconcileImages([]string{"a", "b", "c"}, []string{"b", "zzz"}, []string{"d"})
	assert.Equal(t, []string{"a", "c", "d"}, got)

	assert.Equal(t, []string{"x"}, ReconcileImages(nil, nil, []string{"x"}))
	assert.Equal(t, []string{}, ReconcileImages([]string{"a"}, []string{"a"}, nil))
}

func TestOBNumberFormat(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	ob := OBNumber(at)
	assert.Regexp(t, `^OB-20240309140507-[A-Z0-9]{4}$`, ob)
}
