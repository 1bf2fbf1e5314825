// ABOUTME: Connect dispatches on the broker URL scheme to a Transport implementation
// ABOUTME: mem:// URLs share named in-process brokers; nats:// and tls:// dial NATS

package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
)

var (
	sharedMu      sync.Mutex
	sharedBrokers = make(map[string]*MemoryBroker)
)

// SharedBroker returns the process-wide in-memory broker registered under name,
// creating it on first use.
func SharedBroker(name string) *MemoryBroker {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	b, ok := sharedBrokers[name]
	if !ok {
		b = NewMemoryBroker(nil)
		sharedBrokers[name] = b
	}
	return b
}

// Connect opens a Transport for opts.URL.
func Connect(ctx context.Context, opts Options) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrTransport, err)
	}

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing broker url %q: %v", ErrTransport, opts.URL, err)
	}

	switch u.Scheme {
	case "mem":
		if u.Host == "" {
			return nil, fmt.Errorf("%w: mem url %q needs a broker name", ErrTransport, opts.URL)
		}
		return SharedBroker(u.Host).Connect(opts.Name), nil
	case "nats", "tls":
		return ConnectNATS(opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}
