package ingest

import (
	"crypto/tls"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/WillB97/kit-web-ui/internal/metrics"
)

// State is the session lifecycle; exposed for health reporting.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "disconnected"
	}
}

type SessionConfig struct {
	BrokerURL        string
	Username         string
	Password         string
	TLSMode          string // "true", "false" or "insecure"
	ClientID         string
	QueueSize        int
	ConnectRetryWait time.Duration
}

type inbound struct {
	topic   string
	payload []byte
	arrival time.Time
}

// Session owns one broker connection: connect with retry, subscribe to
// the whole topic space, and feed every message through the pipeline in
// arrival order via a single consume goroutine. The MQTT callback only
// enqueues; when the queue is full it blocks, which pushes backpressure
// into the client's inbound flow instead of dropping telemetry.
type Session struct {
	cfg      SessionConfig
	pipeline *Pipeline

	queue chan inbound
	stop  chan struct{}
	state atomic.Int32
	wg    sync.WaitGroup
}

func NewSession(cfg SessionConfig, pipeline *Pipeline) *Session {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.ConnectRetryWait <= 0 {
		cfg.ConnectRetryWait = 5 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "kit-web-ui-ingest"
	}
	return &Session{
		cfg:      cfg,
		pipeline: pipeline,
		queue:    make(chan inbound, cfg.QueueSize),
		stop:     make(chan struct{}),
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Enqueue hands one raw message to the consume loop, blocking while the
// queue is full. Returns false when the session is shutting down.
func (s *Session) Enqueue(topic string, payload []byte, arrival time.Time) bool {
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.queue <- inbound{topic: topic, payload: payload, arrival: arrival}:
		metrics.QueueDepth.Set(float64(len(s.queue)))
		return true
	case <-s.stop:
		return false
	}
}

func (s *Session) consumeLoop() {
	defer s.wg.Done()
	for {
		select {
		case in := <-s.queue:
			s.pipeline.Handle(in.topic, in.payload, in.arrival)
			metrics.QueueDepth.Set(float64(len(s.queue)))
		case <-s.stop:
			// Drain what was already accepted, then exit.
			for {
				select {
				case in := <-s.queue:
					s.pipeline.Handle(in.topic, in.payload, in.arrival)
				default:
					metrics.QueueDepth.Set(0)
					return
				}
			}
		}
	}
}

func (s *Session) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetCleanSession(false).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(s.cfg.ConnectRetryWait).
		SetMaxReconnectInterval(time.Minute)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	if s.cfg.TLSMode != "false" && s.cfg.TLSMode != "" {
		opts.SetTLSConfig(&tls.Config{
			InsecureSkipVerify: s.cfg.TLSMode == "insecure",
		})
	}

	opts.SetDefaultPublishHandler(func(_ mqtt.Client, m mqtt.Message) {
		s.Enqueue(m.Topic(), m.Payload(), time.Now().UTC())
	})

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		// Runs on every (re)connect; the wildcard subscription has to
		// be re-established each time.
		select {
		case <-s.stop:
			return
		default:
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.subscribeLoop(c)
		}()
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[WARN] Ingest: connection lost, reconnecting: %v", err)
		if s.State() == StateSubscribed {
			s.setState(StateConnecting)
		}
		metrics.BrokerConnected.Set(0)
	})

	return opts
}

// subscribeLoop establishes the wildcard subscription, retrying on the
// connect-retry interval while the session stays in Connecting. A broker
// can accept the connection yet refuse the subscription (an ACL, say);
// without the retry the session would sit connected and ingest nothing.
// Gives up on shutdown, or when the connection drops and the on-connect
// hook is due to run again.
func (s *Session) subscribeLoop(c mqtt.Client) {
	for {
		token := c.Subscribe("#", 1, nil)
		token.Wait()
		err := token.Error()
		if err == nil {
			log.Printf("[INFO] Ingest: connected to %s, subscribed to #", s.cfg.BrokerURL)
			s.setState(StateSubscribed)
			metrics.BrokerConnected.Set(1)
			return
		}
		log.Printf("[ERROR] Ingest: wildcard subscribe failed, retrying in %v: %v",
			s.cfg.ConnectRetryWait, err)

		select {
		case <-s.stop:
			return
		case <-time.After(s.cfg.ConnectRetryWait):
		}
		if !c.IsConnectionOpen() {
			return
		}
	}
}

// Run connects and processes messages until the done channel closes,
// then unsubscribes, disconnects and drains in-flight messages.
// Transient connect failures retry forever inside the client; Run only
// returns on shutdown.
func (s *Session) Run(done <-chan struct{}) error {
	s.wg.Add(1)
	go s.consumeLoop()

	s.setState(StateConnecting)
	client := mqtt.NewClient(s.clientOptions())

	token := client.Connect()
	for !token.WaitTimeout(500 * time.Millisecond) {
		select {
		case <-done:
			s.finish(client)
			return nil
		default:
		}
	}
	if err := token.Error(); err != nil {
		// With connect-retry enabled this only fires on unrecoverable
		// option errors, which are configuration mistakes.
		s.finish(client)
		return err
	}

	<-done
	s.finish(client)
	return nil
}

func (s *Session) finish(client mqtt.Client) {
	s.setState(StateShuttingDown)
	log.Printf("[INFO] Ingest: shutting down")

	if client.IsConnectionOpen() {
		if t := client.Unsubscribe("#"); !t.WaitTimeout(2 * time.Second) {
			log.Printf("[WARN] Ingest: unsubscribe timed out")
		}
	}
	client.Disconnect(250)

	close(s.stop)
	s.wg.Wait()
	s.setState(StateStopped)
	metrics.BrokerConnected.Set(0)
}
