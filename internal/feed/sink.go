package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Sink forwards events to an external system.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
	Close() error
}

// Publisher is the subset of *nats.Conn a NATSSink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each event to "<subject>.<type>", e.g. mcbridge.events.chat.
type NATSSink struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
}

// DialNATS connects to url and returns a sink owning the connection.
func DialNATS(url, subject string, log *zap.Logger) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("mcbridge"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	s := NewNATSSink(nc, subject)
	s.conn = nc
	return s, nil
}

func NewNATSSink(pub Publisher, subject string) *NATSSink {
	return &NATSSink{pub: pub, subject: subject}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Subject(ev Event) string {
	return s.subject + "." + string(ev.Type)
}

func (s *NATSSink) Send(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.pub.Publish(s.Subject(ev), data)
}

func (s *NATSSink) Close() error {
	if s.conn != nil {
		return s.conn.Drain()
	}
	return nil
}

// RedisSink PUBLISHes each event as JSON on one channel.
type RedisSink struct {
	rdb     redis.UniversalClient
	channel string
}

// DialRedis connects to addr and checks the connection with PING.
func DialRedis(ctx context.Context, addr, channel string) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisSink(rdb, channel), nil
}

func NewRedisSink(rdb redis.UniversalClient, channel string) *RedisSink {
	return &RedisSink{rdb: rdb, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.channel, data).Err()
}

func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
