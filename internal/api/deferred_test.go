package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDeferredFixture wires a processor against a product server whose handler
// decides each batch's fate, with sleeps recorded instead of slept.
func newDeferredFixture(t *testing.T, handler http.HandlerFunc) (*DeferredProcessor, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/usuario/login" {
			handleLogin(t, w, r)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	p := NewDeferredProcessor(newTestClient(t, srv.URL), nil)
	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return p, &slept
}

func imageURLs(srv *httptest.Server, n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = srv.URL + "/img" + string(rune('a'+i)) + ".jpg"
	}
	return urls
}

func TestProcessRemainingBatchesOfThree(t *testing.T) {
	images := newImageServer(t)

	var batchSizes []int
	p, slept := newDeferredFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/produto/90", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(10 << 20))

		// Deferred requests carry nothing but indexed image files.
		batchSizes = append(batchSizes, len(r.MultipartForm.File))
		w.Write([]byte(`{}`))
	})

	res := p.ProcessRemaining(context.Background(), 90, "SP-X", imageURLs(images, 7), 3)

	assert.Equal(t, 7, res.Total)
	assert.Equal(t, 7, res.Processed)
	assert.Zero(t, res.Errors)
	assert.Equal(t, res.Total, res.Processed+res.Errors)

	// Seven images split 3/3/1.
	assert.Equal(t, []int{3, 3, 1}, batchSizes)

	// A pause runs between batches, not after the last, inside the
	// configured jitter window.
	opts := DefaultDeferredOptions()
	require.Len(t, *slept, 2)
	for _, d := range *slept {
		assert.GreaterOrEqual(t, d, opts.DelayBase)
		assert.Less(t, d, opts.DelayBase+opts.DelayJitter)
	}
}

func TestProcessRemainingEmptyList(t *testing.T) {
	var requests int32
	p, slept := newDeferredFixture(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	})

	res := p.ProcessRemaining(context.Background(), 90, "SP-X", nil, 3)

	assert.Zero(t, res.Total)
	assert.Zero(t, atomic.LoadInt32(&requests))
	assert.Empty(t, *slept)
}

func TestProcessRemainingContinuesPastFailedBatch(t *testing.T) {
	images := newImageServer(t)

	var batch int32
	p, _ := newDeferredFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&batch, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"message": "db down"}`))
			return
		}
		w.Write([]byte(`{}`))
	})

	res := p.ProcessRemaining(context.Background(), 90, "SP-X", imageURLs(images, 5), 3)

	// First batch of 3 fails, second batch of 2 lands.
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 3, res.Errors)
	assert.Equal(t, int32(2), atomic.LoadInt32(&batch))
}

func TestProcessRemainingExtendedPauseOnBlock(t *testing.T) {
	images := newImageServer(t)

	var batch int32
	p, slept := newDeferredFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&batch, 1) == 1 {
			w.WriteHeader(http.StatusNotAcceptable)
			w.Write([]byte(`{"code": "mod_security"}`))
			return
		}
		w.Write([]byte(`{}`))
	})

	res := p.ProcessRemaining(context.Background(), 90, "SP-X", imageURLs(images, 4), 3)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 3, res.Errors)

	// The block earns a pause beyond the regular inter-batch delay, then the
	// regular pause still runs before the next batch.
	opts := DefaultDeferredOptions()
	require.Len(t, *slept, 2)
	assert.GreaterOrEqual(t, (*slept)[0], opts.BlockedBase)
}

func TestProcessRemainingCountsStagingFailures(t *testing.T) {
	images := newImageServer(t)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer broken.Close()

	p, _ := newDeferredFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	urls := []string{images.URL + "/ok.jpg", broken.URL + "/gone.jpg", images.URL + "/ok2.jpg"}
	res := p.ProcessRemaining(context.Background(), 90, "SP-X", urls, 3)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Errors)
}

func TestProcessRemainingUsesDefaultBatchSize(t *testing.T) {
	images := newImageServer(t)

	var requests int32
	p, _ := newDeferredFixture(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write([]byte(`{}`))
	})

	p.ProcessRemaining(context.Background(), 90, "SP-X", imageURLs(images, 6), 0)

	// Six images at the default batch size of three means two requests.
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}
