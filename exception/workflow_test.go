package exception

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/storage"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

var start = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// testClock is a settable clock
type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestWorkflow(t *testing.T) (*Workflow, *storage.MemoryExceptions, *testClock) {
	t.Helper()
	store := storage.NewMemoryExceptions()
	clock := &testClock{now: start}
	ids := 0
	w := NewWorkflow(store,
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("exc-%d", ids)
		}),
	)
	return w, store, clock
}

func bucketRequest(duration time.Duration) Request {
	return Request{
		AccountID:     "111111111111",
		ResourceID:    "my-bucket",
		RuleName:      "s3-bucket-public-read-prohibited",
		RequestedBy:   "alice@example.com",
		Justification: "static website hosting",
		Duration:      duration,
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to types.ExceptionStatus
		want     bool
	}{
		{types.ExceptionPending, types.ExceptionApproved, true},
		{types.ExceptionPending, types.ExceptionRejected, true},
		{types.ExceptionApproved, types.ExceptionExpired, true},
		{types.ExceptionPending, types.ExceptionExpired, false},
		{types.ExceptionApproved, types.ExceptionRejected, false},
		{types.ExceptionRejected, types.ExceptionApproved, false},
		{types.ExceptionExpired, types.ExceptionApproved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s → %s", tt.from, tt.to)
	}
}

func TestRequest_Validate(t *testing.T) {
	err := Request{AccountID: "111111111111"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resource_id, rule_name, requested_by, justification")

	req := bucketRequest(-time.Hour)
	assert.Error(t, req.Validate())
	assert.NoError(t, bucketRequest(0).Validate())
}

func TestWorkflow_RequestCreatesPending(t *testing.T) {
	w, _, _ := newTestWorkflow(t)

	rec, err := w.Request(context.Background(), bucketRequest(30*24*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, "exc-1", rec.ID)
	assert.Equal(t, types.ExceptionPending, rec.Status)
	assert.Equal(t, start, rec.CreatedAt)
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, start.Add(30*24*time.Hour), *rec.ExpiresAt)
}

func TestWorkflow_RequestRefusedWhileActive(t *testing.T) {
	ctx := context.Background()
	w, _, _ := newTestWorkflow(t)
	req := bucketRequest(0)

	_, err := w.Request(ctx, req)
	require.NoError(t, err)
	_, err = w.Request(ctx, req)
	assert.ErrorIs(t, err, ErrActiveException, "pending blocks a second request")

	_, err = w.Approve(ctx, req.Key(), "bob@example.com")
	require.NoError(t, err)
	_, err = w.Request(ctx, req)
	assert.ErrorIs(t, err, ErrActiveException, "approved blocks a second request")
}

func TestWorkflow_RequestReplacesRejected(t *testing.T) {
	ctx := context.Background()
	w, _, _ := newTestWorkflow(t)
	req := bucketRequest(0)

	_, err := w.Request(ctx, req)
	require.NoError(t, err)
	_, err = w.Reject(ctx, req.Key(), "bob@example.com", "not justified")
	require.NoError(t, err)

	rec, err := w.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "exc-2", rec.ID)
	assert.Equal(t, types.ExceptionPending, rec.Status)
}

func TestWorkflow_RequestReplacesLapsedApproval(t *testing.T) {
	ctx := context.Background()
	w, _, clock := newTestWorkflow(t)
	req := bucketRequest(time.Hour)

	_, err := w.Request(ctx, req)
	require.NoError(t, err)
	_, err = w.Approve(ctx, req.Key(), "bob@example.com")
	require.NoError(t, err)

	clock.now = start.Add(2 * time.Hour)
	rec, err := w.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.ExceptionPending, rec.Status)
}

func TestWorkflow_ApproveAndReject(t *testing.T) {
	ctx := context.Background()
	w, store, clock := newTestWorkflow(t)
	req := bucketRequest(0)
	_, err := w.Request(ctx, req)
	require.NoError(t, err)

	clock.now = start.Add(time.Minute)
	approved, err := w.Approve(ctx, req.Key(), "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, types.ExceptionApproved, approved.Status)
	assert.Equal(t, "bob@example.com", approved.DecidedBy)
	require.NotNil(t, approved.DecidedAt)
	assert.Equal(t, clock.now, *approved.DecidedAt)

	stored, err := store.GetException(ctx, req.Key())
	require.NoError(t, err)
	assert.Equal(t, types.ExceptionApproved, stored.Status)

	_, err = w.Reject(ctx, req.Key(), "carol@example.com", "changed my mind")
	assert.ErrorIs(t, err, ErrInvalidTransition, "decisions are final")

	_, err = w.Approve(ctx, req.Key(), "")
	assert.Error(t, err)
}

func TestWorkflow_ApproveAfterExpiryFails(t *testing.T) {
	ctx := context.Background()
	w, _, clock := newTestWorkflow(t)
	req := bucketRequest(time.Hour)
	_, err := w.Request(ctx, req)
	require.NoError(t, err)

	clock.now = start.Add(time.Hour + time.Second)
	_, err = w.Approve(ctx, req.Key(), "bob@example.com")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestWorkflow_ApproveMissing(t *testing.T) {
	w, _, _ := newTestWorkflow(t)

	_, err := w.Approve(context.Background(), bucketRequest(0).Key(), "bob@example.com")

	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWorkflow_ExpiryIsComputedAtReadTime(t *testing.T) {
	ctx := context.Background()
	w, store, clock := newTestWorkflow(t)
	req := bucketRequest(time.Hour)
	_, err := w.Request(ctx, req)
	require.NoError(t, err)
	_, err = w.Approve(ctx, req.Key(), "bob@example.com")
	require.NoError(t, err)

	clock.now = start.Add(time.Hour)
	active, err := w.Active(ctx, req.Key())
	require.NoError(t, err)
	assert.NotNil(t, active, "expiry instant itself still suppresses")

	clock.now = start.Add(time.Hour + time.Nanosecond)
	active, err = w.Active(ctx, req.Key())
	require.NoError(t, err)
	assert.Nil(t, active)

	got, err := w.Get(ctx, req.Key())
	require.NoError(t, err)
	assert.Equal(t, types.ExceptionExpired, got.Status)

	expired, err := w.List(ctx, types.ExceptionExpired)
	require.NoError(t, err)
	assert.Len(t, expired, 1)

	stored, err := store.GetException(ctx, req.Key())
	require.NoError(t, err)
	assert.Equal(t, types.ExceptionApproved, stored.Status, "nothing persisted yet")
}

func TestWorkflow_Expire(t *testing.T) {
	ctx := context.Background()
	w, store, clock := newTestWorkflow(t)
	req := bucketRequest(time.Hour)
	_, err := w.Request(ctx, req)
	require.NoError(t, err)
	_, err = w.Approve(ctx, req.Key(), "bob@example.com")
	require.NoError(t, err)

	_, err = w.Expire(ctx, req.Key())
	assert.ErrorIs(t, err, ErrInvalidTransition, "cannot expire early")

	clock.now = start.Add(2 * time.Hour)
	rec, err := w.Expire(ctx, req.Key())
	require.NoError(t, err)
	assert.Equal(t, types.ExceptionExpired, rec.Status)
	assert.Equal(t, "bob@example.com", rec.DecidedBy, "expiry keeps the approval audit")

	stored, err := store.GetException(ctx, req.Key())
	require.NoError(t, err)
	assert.Equal(t, types.ExceptionExpired, stored.Status)
}

func TestWorkflow_ExpireDue(t *testing.T) {
	ctx := context.Background()
	w, _, clock := newTestWorkflow(t)

	short := bucketRequest(time.Hour)
	long := bucketRequest(48 * time.Hour)
	long.ResourceID = "other-bucket"
	forever := bucketRequest(0)
	forever.ResourceID = "third-bucket"
	for _, req := range []Request{short, long, forever} {
		_, err := w.Request(ctx, req)
		require.NoError(t, err)
		_, err = w.Approve(ctx, req.Key(), "bob@example.com")
		require.NoError(t, err)
	}

	clock.now = start.Add(2 * time.Hour)
	n, err := w.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	approved, err := w.List(ctx, types.ExceptionApproved)
	require.NoError(t, err)
	assert.Len(t, approved, 2)
}

func TestWorkflow_FindByIDAndDelete(t *testing.T) {
	ctx := context.Background()
	w, _, _ := newTestWorkflow(t)
	req := bucketRequest(0)
	_, err := w.Request(ctx, req)
	require.NoError(t, err)

	found, err := w.FindByID(ctx, "exc-1")
	require.NoError(t, err)
	assert.Equal(t, req.Key(), found.Key())

	_, err = w.FindByID(ctx, "exc-404")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, w.Delete(ctx, req.Key()))
	assert.ErrorIs(t, w.Delete(ctx, req.Key()), storage.ErrNotFound)
}

func TestWorkflow_ListRejectsUnknownStatus(t *testing.T) {
	w, _, _ := newTestWorkflow(t)

	_, err := w.List(context.Background(), "MAYBE")

	assert.Error(t, err)
}

func TestWorkflow_ActiveIgnoresPendingAndRejected(t *testing.T) {
	ctx := context.Background()
	w, _, _ := newTestWorkflow(t)
	req := bucketRequest(0)

	active, err := w.Active(ctx, req.Key())
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = w.Request(ctx, req)
	require.NoError(t, err)
	active, err = w.Active(ctx, req.Key())
	require.NoError(t, err)
	assert.Nil(t, active, "pending has no effect")

	_, err = w.Reject(ctx, req.Key(), "bob@example.com", "no")
	require.NoError(t, err)
	active, err = w.Active(ctx, req.Key())
	require.NoError(t, err)
	assert.Nil(t, active, "rejected has no effect")
}

// failingStore fails every read
type failingStore struct {
	*storage.MemoryExceptions
}

func (failingStore) GetException(context.Context, types.ExceptionKey) (*types.ExceptionRecord, error) {
	return nil, errors.New("connection reset")
}

func TestWorkflow_ActivePropagatesStoreErrors(t *testing.T) {
	w := NewWorkflow(failingStore{storage.NewMemoryExceptions()})

	_, err := w.Active(context.Background(), bucketRequest(0).Key())

	assert.ErrorContains(t, err, "connection reset")
}

// slowReads delays lookups so concurrent requests both see an empty key
type slowReads struct {
	*storage.MemoryExceptions
	delay time.Duration
}

func (s slowReads) GetException(ctx context.Context, key types.ExceptionKey) (*types.ExceptionRecord, error) {
	time.Sleep(s.delay)
	return s.MemoryExceptions.GetException(ctx, key)
}

func TestWorkflow_ConcurrentRequestsHaveOneWinner(t *testing.T) {
	store := storage.NewMemoryExceptions()
	w := NewWorkflow(slowReads{MemoryExceptions: store, delay: 50 * time.Millisecond})

	requesters := []string{"alice@example.com", "bob@example.com"}
	created := make([]*types.ExceptionRecord, len(requesters))
	errs := make([]error, len(requesters))

	var wg sync.WaitGroup
	for i, who := range requesters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := bucketRequest(0)
			req.RequestedBy = who
			created[i], errs[i] = w.Request(context.Background(), req)
		}()
	}
	wg.Wait()

	var winner *types.ExceptionRecord
	for i := range requesters {
		if errs[i] == nil {
			require.Nil(t, winner, "only one request may succeed")
			winner = created[i]
			continue
		}
		assert.ErrorIs(t, errs[i], ErrActiveException)
	}
	require.NotNil(t, winner)

	stored, err := store.GetException(context.Background(), bucketRequest(0).Key())
	require.NoError(t, err)
	assert.Equal(t, winner.ID, stored.ID)
	assert.Equal(t, winner.RequestedBy, stored.RequestedBy)
}
