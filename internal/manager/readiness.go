package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// ReadinessProbe polls a server's /echo endpoint until it answers 2xx.
type ReadinessProbe struct {
	Client   *http.Client
	Attempts int
	Interval time.Duration
}

// Wait polls addr at a fixed interval. It stops early when exited is
// closed, returning errWorkerExited, or when ctx ends. Running out of
// attempts yields a ReadinessTimeoutError.
func (p *ReadinessProbe) Wait(ctx context.Context, addr string, exited <-chan struct{}) error {
	url := "http://" + dialAddr(addr) + "/echo"
	err := retry.Do(
		func() error {
			select {
			case <-exited:
				return retry.Unrecoverable(errWorkerExited)
			default:
			}
			return p.check(ctx, url)
		},
		retry.Context(ctx),
		retry.Attempts(uint(p.Attempts)),
		retry.Delay(p.Interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errWorkerExited):
		return errWorkerExited
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return &ReadinessTimeoutError{Addr: addr, Attempts: p.Attempts, Err: err}
	}
}

func (p *ReadinessProbe) check(ctx context.Context, url string) error {
	timeout := p.Interval
	if timeout < time.Second {
		timeout = time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return retry.Unrecoverable(err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("readiness status %d", resp.StatusCode)
	}
	return nil
}
