package dispatch

import (
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/queryflowproject/queryflow/pkg/routing"
)

// asyncResponse is one server's answer to a fanned-out request, or the
// failure that stands in for it.
type asyncResponse[T any] struct {
	server   routing.ServerInstance
	response T
	err      error
}

// execute fans a request out to every server and drains the responses
// serially. send must invoke the callback exactly once per server; the
// callback never blocks. handle sees each response in arrival order; its
// first non-nil error ends the drain, with the outstanding responses left
// undelivered. When the deadline expires before every server answered,
// onTimeout is returned.
func execute[T any](logger log.Logger, deadline time.Time, servers []routing.ServerInstance,
	send func(server routing.ServerInstance, callback func(response T, err error)),
	handle func(server routing.ServerInstance, response T, err error) error,
	onTimeout error,
) error {
	responses := make(chan asyncResponse[T], len(servers))
	for _, server := range servers {
		server := server
		send(server, func(response T, err error) {
			select {
			case responses <- asyncResponse[T]{server: server, response: response, err: err}:
			default:
				level.Warn(logger).Log("msg", "failed to enqueue response", "server", server.String())
			}
		})
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	for pending := len(servers); pending > 0; pending-- {
		select {
		case resp := <-responses:
			if err := handle(resp.server, resp.response, resp.err); err != nil {
				return err
			}
		case <-timer.C:
			return onTimeout
		}
	}
	return nil
}
