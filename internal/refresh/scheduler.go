// Package refresh runs the background renewal loop. One goroutine, one ticker, ticks
// never overlap: a tick that runs long simply delays the next one.
package refresh

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/adsuite/oauthvault/internal/config"
	"github.com/adsuite/oauthvault/internal/models"
	"github.com/adsuite/oauthvault/internal/oauth"
	"github.com/adsuite/oauthvault/internal/store"
)

// failureRateThreshold is the fraction of failed renewals in one tick above which a
// warning is emitted, pointing at a systemic problem such as revoked app permissions.
const failureRateThreshold = 0.10

// Scheduler periodically scans for credentials nearing expiry and renews them. A
// credential that cannot be renewed is revoked on the spot rather than left to rot:
// downstream resolvers must never hand out a token that is "not revoked" but about to
// be rejected by the remote API.
type Scheduler struct {
	cfg         *config.Config
	store       *store.CredentialStore
	coordinator *oauth.Coordinator

	stop chan struct{}
	done chan struct{}
}

// NewScheduler builds a stopped scheduler; call Start to begin ticking
func NewScheduler(cfg *config.Config, s *store.CredentialStore, c *oauth.Coordinator) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		store:       s,
		coordinator: c,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the renewal loop in its own goroutine. Ticks run sequentially on that
// goroutine, which is what guarantees no two ticks overlap.
func (s *Scheduler) Start() {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.cfg.RefreshInterval)
		defer ticker.Stop()

		log.WithField("interval", s.cfg.RefreshInterval).Info("Token refresh scheduler started")
		for {
			select {
			case <-ticker.C:
				s.RunOnce(context.Background())
			case <-s.stop:
				log.Info("Token refresh scheduler stopped")
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight tick to finish
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// RunOnce executes a single refresh tick. Exported so a tick can be driven directly,
// outside the ticker.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if !s.cfg.OAuthConfigured() {
		log.Debug("OAuth not configured, skipping token refresh")
		return
	}

	due, err := s.store.ListDueForRefresh(s.cfg.RefreshWindowDays)
	if err != nil {
		log.WithError(err).Error("Refresh tick could not list due credentials")
		return
	}
	if len(due) == 0 {
		log.Debug("No credentials due for refresh")
		return
	}

	log.WithField("count", len(due)).Info("Starting token refresh tick")

	var successes, failures int
	for i := range due {
		if s.renewOne(ctx, &due[i]) {
			successes++
		} else {
			failures++
		}
	}

	log.WithFields(log.Fields{
		"succeeded": successes,
		"failed":    failures,
	}).Info("Token refresh tick completed")

	if rate := float64(failures) / float64(len(due)); rate > failureRateThreshold {
		log.WithFields(log.Fields{
			"failed": failures,
			"total":  len(due),
			"rate":   rate,
		}).Warn("High token refresh failure rate")
	}
}

// renewOne renews a single credential, revoking it when renewal fails. Failures are
// contained here so one bad credential never aborts the batch.
func (s *Scheduler) renewOne(ctx context.Context, cred *models.Credential) bool {
	err := s.coordinator.RenewCredential(ctx, cred)
	if err == nil {
		return true
	}

	log.WithFields(log.Fields{
		"external_user_id": cred.ExternalUserID,
	}).WithError(err).Warn("Token renewal failed, revoking credential")

	if _, revokeErr := s.store.Revoke(cred.ExternalUserID); revokeErr != nil {
		log.WithFields(log.Fields{
			"external_user_id": cred.ExternalUserID,
		}).WithError(revokeErr).Error("Failed to revoke credential after renewal failure")
	}
	return false
}
