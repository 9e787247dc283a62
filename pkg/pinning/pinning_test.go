package pinning

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/contentid"
	"github.com/LeeDigitalWorks/rtastore/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "rtastore-test"}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestNew_Registry(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = New(Config{Backend: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pinning backend")

	p, err := New(Config{Backend: BackendMemory})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, BackendMemory, p.Name())

	_, err = New(Config{Backend: BackendS3})
	assert.ErrorContains(t, err, "bucket required")
	_, err = New(Config{Backend: BackendS3, Bucket: "pins"})
	assert.ErrorContains(t, err, "gateway template required")
}

func TestMemory_Pin(t *testing.T) {
	t.Parallel()

	m := NewMemory("")
	data := []byte("forty-five seconds of audio")
	res, err := m.Pin(context.Background(), PinRequest{
		Name: "rec_chunk_2",
		Data: data,
		Tags: map[string]string{TagRecordingID: "rec", TagProvenance: "fallback"},
	})
	require.NoError(t, err)

	assert.NoError(t, contentid.Verify(res.ContentID, data))
	assert.Equal(t, int64(len(data)), res.Size)
	assert.Equal(t, utils.Crc64nvme(data), res.Checksum)
	assert.Equal(t, "http://localhost:8080/ipfs/"+res.ContentID, m.GatewayURL(res.ContentID))

	pin, ok := m.Get(res.ContentID)
	require.True(t, ok)
	assert.Equal(t, "rec", pin.Tags[TagRecordingID])
	assert.Equal(t, 1, m.Len())

	m.SetError(assert.AnError)
	_, err = m.Pin(context.Background(), PinRequest{Data: data})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestWrap_RateLimitHonorsContext(t *testing.T) {
	t.Parallel()

	p := Wrap(NewMemory(""), 0.001, 1)
	_, err := p.Pin(context.Background(), PinRequest{Data: []byte("a")})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Pin(ctx, PinRequest{Data: []byte("b")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestPinata_Pin(t *testing.T) {
	t.Parallel()

	token := signedToken(t, time.Now().Add(time.Hour))
	data := []byte("chunk bytes")

	var (
		mu       sync.Mutex
		gotAuth  string
		gotMeta  pinataMetadata
		gotBytes []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.NoError(t, json.Unmarshal([]byte(r.FormValue("pinataMetadata")), &gotMeta))
		if f, _, err := r.FormFile("file"); assert.NoError(t, err) {
			gotBytes, _ = io.ReadAll(f)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"IpfsHash":"bafkreitest","PinSize":11,"Timestamp":"2025-06-01T10:00:00Z"}`))
	}))
	defer srv.Close()

	p := NewPinata(Config{Credential: token, Endpoint: srv.URL, GatewayTemplate: "https://gw.example/ipfs/{cid}"})
	defer p.Close()

	res, err := p.Pin(context.Background(), PinRequest{
		Name: "rec_chunk_1",
		Data: data,
		Tags: map[string]string{TagChunkID: "rec_chunk_1", TagProvenance: "fallback"},
	})
	require.NoError(t, err)

	assert.Equal(t, "bafkreitest", res.ContentID)
	assert.Equal(t, int64(11), res.Size)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), res.PinnedAt.UTC())
	assert.Equal(t, "https://gw.example/ipfs/bafkreitest", p.GatewayURL(res.ContentID))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer "+token, gotAuth)
	assert.Equal(t, "rec_chunk_1", gotMeta.Name)
	assert.Equal(t, "fallback", gotMeta.KeyValues[TagProvenance])
	assert.Equal(t, data, gotBytes)
}

func TestPinata_Credentials(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tests := []struct {
		name       string
		credential string
		wantErr    error
	}{
		{name: "missing", credential: "", wantErr: ErrNoCredential},
		{name: "expired", credential: signedToken(t, time.Now().Add(-time.Minute)), wantErr: ErrCredentialExpired},
		{name: "rejected by service", credential: "opaque-api-key", wantErr: ErrCredentialExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPinata(Config{Credential: tt.credential, Endpoint: srv.URL})
			_, err := p.Pin(context.Background(), PinRequest{Name: "x", Data: []byte("x")})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, int32(1), calls.Load(), "only the opaque key reaches the service")
}

func TestPinata_ServiceError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"reason":"RATE_LIMITED"}}`))
	}))
	defer srv.Close()

	p := NewPinata(Config{Credential: signedToken(t, time.Time{}), Endpoint: srv.URL})
	_, err := p.Pin(context.Background(), PinRequest{Name: "x", Data: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMITED")
}

// bytesCID is the raw-leaf CIDv1 of "bytes".
const bytesCID = "bafkreibhoce5shal35hs42dcxj7eub3akemugh25cp3snxjvfmdpdmqgve"

func TestS3_Pin(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		putPath string
		putMeta string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			putPath = r.URL.Path
			putMeta = r.Header.Get("X-Amz-Meta-Recording-Id")
			_, _ = io.Copy(io.Discard, r.Body)
			w.Header().Set("ETag", `"etag"`)
		case http.MethodHead:
			if strings.HasSuffix(r.URL.Path, "rec_chunk_3") {
				w.Header().Set("X-Amz-Meta-Cid", bytesCID)
			}
			w.Header().Set("Content-Length", "0")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := NewS3(Config{
		Bucket:          "pins",
		Prefix:          "audio",
		Endpoint:        srv.URL,
		GatewayTemplate: "https://pins.example/ipfs/{cid}",
		AccessKeyID:     "AKIDTEST",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	res, err := p.Pin(context.Background(), PinRequest{
		Name: "rec_chunk_3",
		Data: []byte("bytes"),
		Tags: map[string]string{TagRecordingID: "rec"},
	})
	require.NoError(t, err)
	assert.Equal(t, bytesCID, res.ContentID)
	assert.NoError(t, contentid.Verify(res.ContentID, []byte("bytes")))

	mu.Lock()
	assert.Equal(t, "/pins/audio/rec_chunk_3", putPath)
	assert.Equal(t, "rec", putMeta)
	mu.Unlock()

	assert.Equal(t, "https://pins.example/ipfs/"+bytesCID, p.GatewayURL(res.ContentID))

	// A bucket that reports no cid cannot serve the object by address.
	_, err = p.Pin(context.Background(), PinRequest{Name: "plain", Data: []byte("bytes")})
	assert.ErrorIs(t, err, ErrNoContentID)
}

func TestS3_NoCredential(t *testing.T) {
	t.Parallel()

	p, err := NewS3(Config{Bucket: "pins", Endpoint: "http://127.0.0.1:1", GatewayTemplate: "https://pins.example/{cid}"})
	require.NoError(t, err)
	_, err = p.Pin(context.Background(), PinRequest{Name: "x", Data: []byte("x")})
	assert.ErrorIs(t, err, ErrNoCredential)
}
