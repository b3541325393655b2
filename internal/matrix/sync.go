package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"
)

type SyncConfig struct {
	// Filter is the inline JSON filter sent with every /sync.
	Filter string

	// Timeout is the long-poll timeout in milliseconds. Default: 30000.
	Timeout int

	// InitialBackoff is the first wait after a failed /sync. It doubles on
	// each consecutive failure up to MaxBackoff. Default: 1 second.
	InitialBackoff time.Duration

	// MaxBackoff defaults to 30 seconds.
	MaxBackoff time.Duration
}

// Syncer is satisfied by *Client.
type Syncer interface {
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)
}

// SyncHandler processes one /sync response. The next poll starts after it
// returns.
type SyncHandler func(ctx context.Context, response *SyncResponse)

// InitialSync performs a full state /sync and returns the since token for
// the incremental loop together with the response.
func InitialSync(ctx context.Context, syncer Syncer, filter string) (string, *SyncResponse, error) {
	response, err := syncer.Sync(ctx, SyncOptions{
		Filter:    filter,
		FullState: true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("initial sync: %w", err)
	}
	return response.NextBatch, response, nil
}

// RunSyncLoop long-polls /sync from sinceToken and calls handler for every
// response until ctx is cancelled. Failed polls are retried with
// exponential backoff; onError, if set, is called for each failure.
func RunSyncLoop(ctx context.Context, syncer Syncer, config SyncConfig, sinceToken string, handler SyncHandler, onError func(error), logger *slog.Logger) {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30000
	}
	initialBackoff := config.InitialBackoff
	if initialBackoff == 0 {
		initialBackoff = time.Second
	}
	maxBackoff := config.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = 30 * time.Second
	}

	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		options := SyncOptions{
			Since:      sinceToken,
			Timeout:    timeout,
			SetTimeout: true,
			Filter:     config.Filter,
		}

		response, err := syncer.Sync(ctx, options)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if onError != nil {
				onError(err)
			}
			logger.Error("sync failed, retrying", "error", err, "backoff", backoff)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = initialBackoff
		sinceToken = response.NextBatch

		handler(ctx, response)
	}
}

// Joiner is satisfied by *Client.
type Joiner interface {
	JoinRoom(ctx context.Context, roomID string) (string, error)
}

// AcceptInvites joins every room in invites, in room id order, and returns
// the ids joined.
func AcceptInvites(ctx context.Context, joiner Joiner, invites map[string]InvitedRoom, logger *slog.Logger) []string {
	var accepted []string
	for _, roomID := range slices.Sorted(maps.Keys(invites)) {
		logger.Info("accepting room invite", "room_id", roomID)
		if _, err := joiner.JoinRoom(ctx, roomID); err != nil {
			logger.Error("failed to accept room invite",
				"room_id", roomID,
				"error", err,
			)
			continue
		}
		accepted = append(accepted, roomID)
	}
	return accepted
}
