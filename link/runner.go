package link

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultMTU = 1500

// Runner owns one named link-layer device, opening it through an Opener and
// reconnecting with exponential backoff whenever the device errors out from
// under it (cable pulled, TAP destroyed, EINTR on open). It separates
// reading and writing onto their own goroutines so Send never blocks on a
// slow or stalled device read.
type Runner struct {
	name string
	addr netip.Prefix
	open Opener
	mtu  int
	log  *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration

	out chan []byte
}

// NewRunner builds a Runner for the interface named name, to be opened via
// open and read with MTU-sized buffers. Log receives connection-lifecycle
// events; it should already be scoped with the interface name.
func NewRunner(name string, addr netip.Prefix, open Opener, log *slog.Logger) *Runner {
	return &Runner{
		name:           name,
		addr:           addr,
		open:           open,
		mtu:            defaultMTU,
		log:            log,
		initialBackoff: 200 * time.Millisecond,
		maxBackoff:     30 * time.Second,
		out:            make(chan []byte, 256),
	}
}

// Send queues frame for transmission on the device. It copies frame before
// queuing it, since the caller may reuse its buffer immediately. If the
// outgoing queue is full the frame is dropped and an error returned.
func (r *Runner) Send(frame []byte) error {
	cp := append([]byte(nil), frame...)
	select {
	case r.out <- cp:
		return nil
	default:
		return fmt.Errorf("link %s: outgoing queue full, dropping frame", r.name)
	}
}

// Run opens the device and dispatches every received frame to handle until
// ctx is cancelled. On any device error it backs off and reopens, never
// returning until ctx is done.
func (r *Runner) Run(ctx context.Context, handle FrameHandler) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.InitialInterval = r.initialBackoff
	bo.MaxInterval = r.maxBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := r.connect(ctx, handle); err != nil {
			r.log.Error("link session ended", "iface", r.name, "err", err)
			wait := bo.NextBackOff()
			r.log.Info("reconnecting", "iface", r.name, "in", wait)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		} else {
			bo.Reset()
		}
	}
}

// connect opens the device and pumps frames until ctx is cancelled or the
// device errors, in which case the error is returned so Run can back off.
func (r *Runner) connect(ctx context.Context, handle FrameHandler) error {
	dev, err := r.open(r.name, r.addr)
	if err != nil {
		return fmt.Errorf("opening %s: %w", r.name, err)
	}
	defer dev.Close()
	r.log.Info("link up", "iface", r.name)

	errc := make(chan error, 2)
	done := make(chan struct{})
	defer close(done)

	go func() {
		buf := make([]byte, r.mtu)
		for {
			n, err := dev.Read(buf)
			if err != nil {
				errc <- fmt.Errorf("reading %s: %w", r.name, err)
				return
			}
			if n == 0 {
				continue
			}
			frame := append([]byte(nil), buf[:n]...)
			if err := handle(frame); err != nil {
				r.log.Error("frame handler failed", "iface", r.name, "err", err)
			}
		}
	}()

	go func() {
		for {
			select {
			case frame := <-r.out:
				if _, err := dev.Write(frame); err != nil {
					errc <- fmt.Errorf("writing %s: %w", r.name, err)
					return
				}
			case <-done:
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}
