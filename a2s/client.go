package a2s

import (
	"context"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNoReply is returned when a query exchange times out
var ErrNoReply = errors.New("no reply from server")

const (
	DefaultQueryTimeout = 2 * time.Second
	queryBufferSize     = 4096
)

// QueryClient performs A2S_INFO and A2S_PLAYER exchanges. Each exchange
// uses its own ephemeral socket which is closed when the timeout fires,
// unblocking the pending receive.
type QueryClient struct {
	Timeout time.Duration
}

func NewQueryClient(timeout time.Duration) *QueryClient {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &QueryClient{Timeout: timeout}
}

type exchange struct {
	ctx      context.Context
	conn     *net.UDPConn
	server   netip.AddrPort
	buf      []byte
	timedOut atomic.Bool
	timer    *time.Timer
	stopCtx  func() bool
}

func (q *QueryClient) open(ctx context.Context, server netip.AddrPort) (*exchange, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, errors.Wrap(err, "could not open query socket")
	}

	ex := &exchange{
		ctx:    ctx,
		conn:   conn,
		server: server,
		buf:    make([]byte, queryBufferSize),
	}
	ex.timer = time.AfterFunc(q.Timeout, func() {
		ex.timedOut.Store(true)
		_ = conn.Close()
	})
	ex.stopCtx = context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	return ex, nil
}

func (ex *exchange) close() {
	ex.timer.Stop()
	ex.stopCtx()
	_ = ex.conn.Close()
}

func (ex *exchange) failure(err error) error {
	if ex.timedOut.Load() {
		return errors.Wrapf(ErrNoReply, "query to %s", ex.server)
	}
	if ex.ctx.Err() != nil {
		return ex.ctx.Err()
	}
	return err
}

// roundTrip sends request and waits for one datagram from the server.
// Datagrams from any other sender are discarded.
func (ex *exchange) roundTrip(request []byte) ([]byte, error) {
	if _, err := ex.conn.WriteToUDPAddrPort(request, ex.server); err != nil {
		return nil, ex.failure(errors.Wrap(err, "could not send query"))
	}
	for {
		n, from, err := ex.conn.ReadFromUDPAddrPort(ex.buf)
		if err != nil {
			return nil, ex.failure(errors.Wrap(err, "could not receive query reply"))
		}
		if !SameAddrPort(from, ex.server) {
			logrus.
				WithField("server", ex.server).
				WithField("from", from).
				Debug("Ignoring query reply from unexpected sender")
			continue
		}
		return ex.buf[:n], nil
	}
}

// QueryInfo runs an A2S_INFO exchange, answering a challenge if the server asks for one
func (q *QueryClient) QueryInfo(ctx context.Context, server netip.AddrPort) (*ServerInfo, error) {
	ex, err := q.open(ctx, server)
	if err != nil {
		return nil, err
	}
	defer ex.close()

	reply, err := ex.roundTrip(InfoRequest(nil))
	if err != nil {
		return nil, err
	}
	challenge, info, err := DecodeChallengeOrInfo(reply)
	if err != nil {
		return nil, err
	}
	if challenge != nil {
		reply, err = ex.roundTrip(InfoRequest(challenge))
		if err != nil {
			return nil, err
		}
		info, err = DecodeServerInfo(reply)
		if err != nil {
			return nil, err
		}
	}

	info.GeneratedAt = time.Now()
	return info, nil
}

// QueryPlayers runs the two phase A2S_PLAYER exchange. Servers that skip the
// challenge and answer the first request with a player list are accepted.
func (q *QueryClient) QueryPlayers(ctx context.Context, server netip.AddrPort) (*PlayerList, error) {
	ex, err := q.open(ctx, server)
	if err != nil {
		return nil, err
	}
	defer ex.close()

	reply, err := ex.roundTrip(PlayerChallengeRequest())
	if err != nil {
		return nil, err
	}
	challenge, list, err := DecodePlayerReply(reply)
	if err != nil {
		return nil, err
	}

	if challenge != nil {
		reply, err = ex.roundTrip(PlayerRequest(*challenge))
		if err != nil {
			return nil, err
		}
		_, list, err = DecodePlayerReply(reply)
		if err != nil {
			return nil, err
		}
		if list == nil {
			return nil, errors.Wrap(ErrUnsupportedFormat, "server answered challenge with another challenge")
		}
	}

	list.GeneratedAt = time.Now()
	return list, nil
}

// SameAddrPort compares addresses ignoring IPv4-in-IPv6 mapping
func SameAddrPort(a, b netip.AddrPort) bool {
	return a.Port() == b.Port() && a.Addr().Unmap() == b.Addr().Unmap()
}
