package session

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultRefreshThreshold = 5
	DefaultRefreshInterval  = time.Minute
	DefaultExpiryInterval   = 30 * time.Second
)

// RefreshJob renews the access token before it expires. It checks on every tick and
// whenever Visible is called. Stop it by cancelling the context passed to Start or Run.
type RefreshJob struct {
	session   *Manager
	interval  time.Duration
	threshold int
	visible   chan struct{}
}

func NewRefreshJob(session *Manager, interval time.Duration, thresholdMinutes int) *RefreshJob {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if thresholdMinutes <= 0 {
		thresholdMinutes = DefaultRefreshThreshold
	}
	return &RefreshJob{
		session:   session,
		interval:  interval,
		threshold: thresholdMinutes,
		visible:   make(chan struct{}, 1),
	}
}

// Visible signals that the user came back to the client. It never blocks.
func (j *RefreshJob) Visible() {
	select {
	case j.visible <- struct{}{}:
	default:
	}
}

func (j *RefreshJob) Start(ctx context.Context) {
	go j.Run(ctx)
}

func (j *RefreshJob) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.checkOnce(ctx)
		case <-j.visible:
			j.checkOnce(ctx)
		}
	}
}

// checkOnce refreshes when the access token expires within the threshold and reports
// whether a refresh was attempted.
func (j *RefreshJob) checkOnce(ctx context.Context) bool {
	token, ok := j.session.AccessToken()
	if !ok {
		return false
	}
	if !IsTokenExpiringSoon(token, j.threshold, j.session.now()) {
		return false
	}
	if err := j.session.RefreshToken(ctx); err != nil && !errors.Is(err, ErrNoRefreshToken) {
		j.session.logger.WithError(err).Info("proactive refresh failed")
	}
	return true
}

// ExpiryJob ends the session as soon as the stored access token has expired.
type ExpiryJob struct {
	session  *Manager
	interval time.Duration
}

func NewExpiryJob(session *Manager, interval time.Duration) *ExpiryJob {
	if interval <= 0 {
		interval = DefaultExpiryInterval
	}
	return &ExpiryJob{session: session, interval: interval}
}

func (j *ExpiryJob) Start(ctx context.Context) {
	go j.Run(ctx)
}

func (j *ExpiryJob) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.checkOnce()
		}
	}
}

// checkOnce forces a logout when the token is expired, or when the state claims to be
// authenticated without any token. It reports whether the session was ended.
func (j *ExpiryJob) checkOnce() bool {
	token, ok := j.session.AccessToken()
	if !ok {
		if j.session.State().IsAuthenticated {
			j.session.ForceLogout("token_missing")
			return true
		}
		return false
	}
	if IsTokenExpired(token, j.session.now()) {
		j.session.ForceLogout("token_expired")
		return true
	}
	return false
}
