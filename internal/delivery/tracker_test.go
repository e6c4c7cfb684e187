package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybird/relaybird/internal/transport"
)

type upgradeCall struct {
	transportMessageID string
	status             Status
}

type replyCall struct {
	destinationID string
	at            time.Time
}

// trackerRepo records upgrade and reply calls and returns scripted errors.
type trackerRepo struct {
	mu         sync.Mutex
	upgradeErr error
	replyErr   error
	upgrades   []upgradeCall
	replies    []replyCall
}

func (r *trackerRepo) UpgradeStatus(ctx context.Context, transportMessageID string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upgrades = append(r.upgrades, upgradeCall{transportMessageID, status})
	return r.upgradeErr
}

func (r *trackerRepo) MarkResponded(ctx context.Context, destinationID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, replyCall{destinationID, at})
	return r.replyErr
}

func (r *trackerRepo) Create(ctx context.Context, log *Log) error          { return nil }
func (r *trackerRepo) GetByID(ctx context.Context, id string) (*Log, error) {
	return nil, ErrLogNotFound
}
func (r *trackerRepo) List(ctx context.Context, filter Filter) ([]Log, int, error) {
	return nil, 0, nil
}
func (r *trackerRepo) RecentSends(ctx context.Context, destinationID string, since time.Time, limit int) ([]Log, error) {
	return nil, nil
}
func (r *trackerRepo) ListSince(ctx context.Context, since time.Time) ([]Log, error) {
	return nil, nil
}

func TestTracker_AppliesDeliveredReceipt(t *testing.T) {
	repo := &trackerRepo{}
	tracker := NewTracker(DefaultTrackerConfig(), repo, nil)

	tracker.Expect("tm-1")
	require.Equal(t, 1, tracker.Pending())

	tracker.apply(context.Background(), transport.Receipt{
		TransportMessageID: "tm-1",
		Kind:               transport.ReceiptDelivered,
	})

	require.Len(t, repo.upgrades, 1)
	assert.Equal(t, "tm-1", repo.upgrades[0].transportMessageID)
	assert.Equal(t, StatusDelivered, repo.upgrades[0].status)
	assert.Equal(t, 0, tracker.Pending(), "applied receipt clears the expectation")
}

func TestTracker_ReadReceiptUpgradesToRead(t *testing.T) {
	repo := &trackerRepo{}
	tracker := NewTracker(DefaultTrackerConfig(), repo, nil)

	tracker.apply(context.Background(), transport.Receipt{
		TransportMessageID: "tm-1",
		Kind:               transport.ReceiptRead,
	})

	require.Len(t, repo.upgrades, 1)
	assert.Equal(t, StatusRead, repo.upgrades[0].status)
}

func TestTracker_UnmatchedReceiptKeepsNothing(t *testing.T) {
	repo := &trackerRepo{upgradeErr: ErrLogNotFound}
	tracker := NewTracker(DefaultTrackerConfig(), repo, nil)

	tracker.Expect("tm-1")

	tracker.apply(context.Background(), transport.Receipt{
		TransportMessageID: "tm-1",
		Kind:               transport.ReceiptDelivered,
	})

	// Unmatched receipts are discarded without clearing the expectation;
	// the sweeper will age it out.
	assert.Equal(t, 1, tracker.Pending())
}

func TestTracker_StaleReceiptClearsExpectation(t *testing.T) {
	repo := &trackerRepo{upgradeErr: ErrNoForwardUpgrade}
	tracker := NewTracker(DefaultTrackerConfig(), repo, nil)

	tracker.Expect("tm-1")

	tracker.apply(context.Background(), transport.Receipt{
		TransportMessageID: "tm-1",
		Kind:               transport.ReceiptDelivered,
	})

	// The record already confirmed further along, so the send is settled.
	assert.Equal(t, 0, tracker.Pending())
}

func TestTracker_RepositoryErrorKeepsExpectation(t *testing.T) {
	repo := &trackerRepo{upgradeErr: errors.New("connection reset")}
	tracker := NewTracker(DefaultTrackerConfig(), repo, nil)

	tracker.Expect("tm-1")

	tracker.apply(context.Background(), transport.Receipt{
		TransportMessageID: "tm-1",
		Kind:               transport.ReceiptDelivered,
	})

	assert.Equal(t, 1, tracker.Pending())
}

func TestTracker_ReplyMarksResponded(t *testing.T) {
	repo := &trackerRepo{}
	tracker := NewTracker(DefaultTrackerConfig(), repo, nil)

	at := time.Now()
	tracker.apply(context.Background(), transport.Receipt{
		DestinationID: "dest-1",
		Kind:          transport.ReceiptReply,
		At:            at,
	})

	require.Len(t, repo.replies, 1)
	assert.Equal(t, "dest-1", repo.replies[0].destinationID)
	assert.Equal(t, at, repo.replies[0].at)
	assert.Empty(t, repo.upgrades)
}

func TestTracker_ConsumesReceiptStream(t *testing.T) {
	repo := &trackerRepo{}
	receipts := make(chan transport.Receipt, 2)
	tracker := NewTracker(TrackerConfig{ReceiptTimeout: time.Second, SweepInterval: time.Hour}, repo, receipts)

	tracker.Start(context.Background())

	receipts <- transport.Receipt{TransportMessageID: "tm-1", Kind: transport.ReceiptDelivered}
	receipts <- transport.Receipt{TransportMessageID: "tm-1", Kind: transport.ReceiptRead}

	assert.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.upgrades) == 2
	}, time.Second, 10*time.Millisecond)

	tracker.Stop()
}

func TestTracker_SweepDropsTimedOutExpectations(t *testing.T) {
	repo := &trackerRepo{}
	tracker := NewTracker(TrackerConfig{
		ReceiptTimeout: 10 * time.Millisecond,
		SweepInterval:  10 * time.Millisecond,
	}, repo, nil)

	tracker.Expect("tm-1")
	tracker.Expect("tm-2")
	require.Equal(t, 2, tracker.Pending())

	tracker.Start(context.Background())
	defer tracker.Stop()

	assert.Eventually(t, func() bool {
		return tracker.Pending() == 0
	}, time.Second, 10*time.Millisecond)
}
