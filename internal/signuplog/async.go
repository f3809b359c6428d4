package signuplog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Async runs a Recorder on its own goroutine per signup with a bounded
// timeout. It satisfies session.SignupNotifier.
type Async struct {
	rec     Recorder
	timeout time.Duration
	logger  *zap.SugaredLogger
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewAsync(rec Recorder, timeout time.Duration, logger *zap.SugaredLogger) *Async {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Async{rec: rec, timeout: timeout, logger: logger, now: time.Now}
}

// Notify returns immediately; delivery errors are only logged.
func (a *Async) Notify(email, credential string) {
	if a == nil || a.rec == nil {
		return
	}
	e := Entry{Email: email, Credential: credential, At: a.now().UTC()}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.rec.Record(ctx, e); err != nil {
			a.logger.Warnw("signup record failed", "email", email, "err", err)
		}
	}()
}

// Wait blocks until every pending delivery has finished.
func (a *Async) Wait() {
	a.wg.Wait()
}
