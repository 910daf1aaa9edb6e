package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	upload "github.com/input-output-hk/catalyst-forge-libs/upload"
	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/config"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/upload/signer/miniosigner"
	"github.com/input-output-hk/catalyst-forge-libs/upload/signer/remote"
	"github.com/input-output-hk/catalyst-forge-libs/upload/signer/s3signer"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

type env struct {
	store  *testutil.ObjectStore
	signer *testutil.FakeSigner
	app    *app
}

func newEnv(t *testing.T, files map[string][]byte) *env {
	t.Helper()
	store := testutil.NewObjectStore()
	t.Cleanup(store.Close)
	signer := testutil.NewFakeSigner(store)

	return &env{
		store:  store,
		signer: signer,
		app: &app{
			fs: testutil.NewMemFS(t, files),
			newSigner: func(context.Context, *config.Config, *slog.Logger) (uploadtypes.Signer, error) {
				return signer, nil
			},
			uploadOpts: []uploadtypes.Option{
				upload.WithHTTPClient(store.Server.Client()),
				upload.WithChunkLimits(uploadtypes.ChunkLimits{MinPartSize: 1024, MaxPartSize: uploadtypes.MiB, MaxParts: 100}),
			},
		},
	}
}

func (e *env) run(ctx context.Context, args ...string) (string, error) {
	cmd := newRootCommand(e.app)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--bucket=test"}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestPut(t *testing.T) {
	small := testutil.GenerateRandomData(2048)
	large := testutil.GenerateRandomData(8192)

	tests := []struct {
		name     string
		args     []string
		wantErr  bool
		validate func(t *testing.T, e *env, out string)
	}{
		{
			name: "direct and multipart",
			args: []string{"put", "--threshold=4096", "--chunk-size=1024", "small.bin", "large.bin"},
			validate: func(t *testing.T, e *env, out string) {
				assert.Contains(t, out, "small.bin")
				assert.Contains(t, out, "large.bin")
				assert.Contains(t, out, string(uploadtypes.StrategyDirect))
				assert.Contains(t, out, string(uploadtypes.StrategyMultipart))
				assert.Contains(t, out, "2/2 UPLOADED")

				stored, ok := e.store.Object("uploads/small.bin")
				require.True(t, ok)
				assert.Equal(t, small, stored)
				stored, ok = e.store.Object("uploads/large.bin")
				require.True(t, ok)
				assert.Equal(t, large, stored)
				require.Len(t, e.signer.Completed(), 1)
				assert.Len(t, e.signer.Completed()[0], 8)
			},
		},
		{
			name:    "missing file",
			args:    []string{"put", "small.bin", "absent.bin"},
			wantErr: true,
			validate: func(t *testing.T, e *env, out string) {
				assert.Contains(t, out, "1/2 UPLOADED")
				assert.Contains(t, out, "failed")
			},
		},
		{
			name:    "requires files",
			args:    []string{"put"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, map[string][]byte{"small.bin": small, "large.bin": large})
			out, err := e.run(context.Background(), tt.args...)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			if tt.validate != nil {
				tt.validate(t, e, out)
			}
		})
	}
}

func TestPut_InterruptCancelsUploads(t *testing.T) {
	e := newEnv(t, map[string][]byte{"a.bin": testutil.GenerateRandomData(1024)})
	e.store.Stall = func(*http.Request) bool { return true }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		assert.Eventually(t, func() bool { return len(e.store.Requests()) > 0 }, 5*time.Second, 10*time.Millisecond)
		cancel()
	}()

	out, err := e.run(ctx, "put", "a.bin")
	require.Error(t, err)
	assert.True(t, errors.IsAborted(err))
	assert.Contains(t, out, "0/1 UPLOADED")
}

func TestPutFile_SkipsAfterInterrupt(t *testing.T) {
	e := newEnv(t, map[string][]byte{"a.bin": testutil.GenerateRandomData(1024)})
	e.app.logger = slog.New(slog.DiscardHandler)

	u, err := upload.New(e.signer, e.app.uploadOpts...)
	require.NoError(t, err)
	defer u.Close()

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(errors.ErrCancelled)

	r := e.app.putFile(ctx, u, "a.bin")
	require.Error(t, r.err)
	assert.True(t, errors.IsAborted(r.err))
	assert.Equal(t, int64(1024), r.size)
	assert.Empty(t, e.store.Requests(), "nothing is uploaded once interrupted")
	assert.Zero(t, e.signer.Calls("GetUploadParameters"))
}

func TestParts(t *testing.T) {
	e := newEnv(t, nil)
	e.signer.ListPartsFunc = func(_ context.Context, _ *uploadtypes.File, key uploadtypes.SessionKey) ([]uploadtypes.Part, error) {
		assert.Equal(t, uploadtypes.SessionKey{UploadID: "u-1", Key: "k"}, key)
		return []uploadtypes.Part{{Number: 1, Size: 1024, ETag: `"etag-1"`}, {Number: 2, Size: 512, ETag: `"etag-2"`}}, nil
	}

	out, err := e.run(context.Background(), "parts", "u-1", "k")
	require.NoError(t, err)
	assert.Contains(t, out, `"etag-1"`)
	assert.Contains(t, out, `"etag-2"`)
}

func TestAbort(t *testing.T) {
	e := newEnv(t, nil)

	out, err := e.run(context.Background(), "abort", "u-1", "k")
	require.NoError(t, err)
	assert.Equal(t, "aborted u-1 (k)\n", out)
	assert.Equal(t, []uploadtypes.SessionKey{{UploadID: "u-1", Key: "k"}}, e.signer.Aborted())
}

func TestServe(t *testing.T) {
	e := newEnv(t, nil)
	e.app.cfg = &config.Config{Signer: config.SignerConfig{Type: config.SignerS3}}
	e.app.logger = slog.New(slog.DiscardHandler)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.app.serve(ctx, ln) }()

	client, err := remote.New("http://" + ln.Addr().String())
	require.NoError(t, err)
	key, err := client.CreateMultipartUpload(context.Background(), &uploadtypes.File{Name: "big.bin", Size: 10})
	require.NoError(t, err)
	assert.Equal(t, "uploads/big.bin", key.Key)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestNewSigner(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	tests := []struct {
		name   string
		signer config.SignerConfig
		check  func(t *testing.T, s uploadtypes.Signer)
	}{
		{
			name:   "s3",
			signer: config.SignerConfig{Type: config.SignerS3, Bucket: "uploads", Region: "eu-west-1", AccessKeyID: "id", SecretAccessKey: "secret"},
			check: func(t *testing.T, s uploadtypes.Signer) {
				assert.IsType(t, &s3signer.Signer{}, s)
			},
		},
		{
			name:   "minio",
			signer: config.SignerConfig{Type: config.SignerMinio, Bucket: "uploads", Endpoint: "localhost:9000"},
			check: func(t *testing.T, s uploadtypes.Signer) {
				assert.IsType(t, &miniosigner.Signer{}, s)
			},
		},
		{
			name:   "remote",
			signer: config.SignerConfig{Type: config.SignerRemote, URL: "http://localhost:8080", Token: "t"},
			check: func(t *testing.T, s uploadtypes.Signer) {
				assert.IsType(t, &remote.Client{}, s)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := newSigner(context.Background(), &config.Config{Signer: tt.signer}, logger)
			require.NoError(t, err)
			tt.check(t, s)
		})
	}

	_, err := newSigner(context.Background(), &config.Config{Signer: config.SignerConfig{Type: "gcs"}}, logger)
	assert.True(t, errors.IsInvalidInput(err))
}

func TestRenderPut(t *testing.T) {
	var out strings.Builder
	renderPut(&out, []putResult{
		{path: "a.bin", size: 2048, result: &uploadtypes.Result{Strategy: uploadtypes.StrategyDirect, UploadURL: "https://x/a"}},
		{path: "b.bin", err: errors.NewNetworkError("upload", nil)},
	}, time.Second)

	assert.Contains(t, out.String(), "https://x/a")
	assert.Contains(t, out.String(), "failed")
	assert.Contains(t, out.String(), "1/2 UPLOADED")
}
