package linkcheck

import (
	"sync"

	"github.com/AdguardTeam/LinkCheck/internal/webreq"
)

// requestQueue is the buffer between the capture of requests and their
// evaluation.  It is safe for concurrent use.
type requestQueue struct {
	mu   *sync.Mutex
	reqs []*webreq.RequestInfo
}

// newRequestQueue returns a new empty queue.
func newRequestQueue() (q *requestQueue) {
	return &requestQueue{
		mu: &sync.Mutex{},
	}
}

// push adds ri to the end of q.  It has the signature of a
// [browser.RequestHandler].
func (q *requestQueue) push(ri *webreq.RequestInfo) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.reqs = append(q.reqs, ri)
}

// drain removes and returns all requests from q in the order they were pushed.
func (q *requestQueue) drain() (reqs []*webreq.RequestInfo) {
	q.mu.Lock()
	defer q.mu.Unlock()

	reqs, q.reqs = q.reqs, nil

	return reqs
}
