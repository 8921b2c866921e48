package kernel

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/notebookd/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"
)

// Config describes how to reach a Jupyter server.
type Config struct {
	// URL is the Jupyter server base URL, e.g. http://127.0.0.1:8888.
	URL   string
	Token string
	// KernelName is used when a new kernel has to be started.
	KernelName string
	// KernelID attaches to an existing kernel instead of starting one.
	KernelID string
	// CAFile is a PEM bundle trusted for https/wss in addition to the system roots.
	CAFile string

	ConnectTimeout     time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
}

// DefaultConfig returns local-development defaults.
func DefaultConfig() Config {
	return Config{
		URL:                "http://127.0.0.1:8888",
		KernelName:         "python3",
		ConnectTimeout:     5 * time.Second,
		MaxConnectAttempts: 3,
		Backoff:            DefaultBackoff(),
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.URL) == "" {
		c.URL = def.URL
	}
	if strings.TrimSpace(c.KernelName) == "" {
		c.KernelName = def.KernelName
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	return c
}

// Client connects to kernels hosted by a Jupyter server.
type Client struct {
	cfg    Config
	http   *http.Client
	tls    *tls.Config
	tlsErr error
	rng    *rand.Rand

	// sleep waits between connect attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ Connector = (*Client)(nil)

func NewClient(cfg Config) *Client {
	cfg = cfg.WithDefaults()
	tlsCfg, tlsErr := loadTLSConfig(cfg.CAFile)
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.ConnectTimeout, Transport: transport},
		tls:    tlsCfg,
		tlsErr: tlsErr,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepContext,
	}
}

func loadTLSConfig(caFile string) (*tls.Config, error) {
	if strings.TrimSpace(caFile) == "" {
		return nil, nil
	}
	pemBytes, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("ca file %s has no certificates", caFile)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Connect opens a kernel session, retrying with backoff up to MaxConnectAttempts.
func (c *Client) Connect(ctx context.Context) (Kernel, error) {
	if c.tlsErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, c.tlsErr)
	}
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxConnectAttempts; attempt++ {
		if attempt > 1 {
			delay := NextBackoffDelay(c.cfg.Backoff, attempt-1, c.rng)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrConnect, err)
			}
		}
		k, err := c.connectOnce(ctx)
		observability.RecordKernelConnect(err == nil)
		if err == nil {
			log.Info().
				Str("kernel", k.ID()).
				Int("attempt", attempt).
				Msg("kernel connected")
			return k, nil
		}
		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.MaxConnectAttempts).
			Msg("kernel connect attempt failed")
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrConnect, lastErr)
}

func (c *Client) connectOnce(ctx context.Context) (*jupyterKernel, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	kernelID := strings.TrimSpace(c.cfg.KernelID)
	if kernelID == "" {
		id, err := c.startKernel(ctx)
		if err != nil {
			return nil, err
		}
		kernelID = id
	} else if err := c.lookupKernel(ctx, kernelID); err != nil {
		return nil, err
	}

	session := uuid.NewString()
	wsCfg, err := c.websocketConfig(kernelID, session)
	if err != nil {
		return nil, err
	}
	ws, err := wsCfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial kernel channels: %w", err)
	}
	return newJupyterKernel(kernelID, session, ws), nil
}

type kernelModel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Client) startKernel(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"name": c.cfg.KernelName})
	if err != nil {
		return "", err
	}
	var model kernelModel
	if err := c.doJSON(ctx, http.MethodPost, "/api/kernels", body, &model); err != nil {
		return "", fmt.Errorf("start kernel %q: %w", c.cfg.KernelName, err)
	}
	if strings.TrimSpace(model.ID) == "" {
		return "", fmt.Errorf("start kernel %q: empty kernel id", c.cfg.KernelName)
	}
	return model.ID, nil
}

func (c *Client) lookupKernel(ctx context.Context, id string) error {
	var model kernelModel
	if err := c.doJSON(ctx, http.MethodGet, "/api/kernels/"+url.PathEscape(id), nil, &model); err != nil {
		return fmt.Errorf("lookup kernel %q: %w", id, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	endpoint, err := c.endpoint(path)
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrKernelNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("jupyter server returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode jupyter response: %w", err)
	}
	return nil
}

func (c *Client) websocketConfig(kernelID, session string) (*websocket.Config, error) {
	endpoint, err := c.endpoint("/api/kernels/" + url.PathEscape(kernelID) + "/channels")
	if err != nil {
		return nil, err
	}
	origin := endpoint.Scheme + "://" + endpoint.Host
	switch endpoint.Scheme {
	case "https":
		endpoint.Scheme = "wss"
	default:
		endpoint.Scheme = "ws"
	}
	q := endpoint.Query()
	q.Set("session_id", session)
	endpoint.RawQuery = q.Encode()

	cfg, err := websocket.NewConfig(endpoint.String(), origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	c.authorize(cfg.Header)
	cfg.TlsConfig = c.tls
	return cfg, nil
}

func (c *Client) endpoint(path string) (*url.URL, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(c.cfg.URL), "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid jupyter url %q: %w", c.cfg.URL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid jupyter url %q", c.cfg.URL)
	}
	base.Path = strings.TrimRight(base.Path, "/") + path
	return base, nil
}

func (c *Client) authorize(h http.Header) {
	if token := strings.TrimSpace(c.cfg.Token); token != "" {
		h.Set("Authorization", "token "+token)
	}
}

// jupyterKernel is a live websocket session to one kernel.
type jupyterKernel struct {
	id      string
	session string
	ws      *websocket.Conn

	writeMu  sync.Mutex
	inflight *inflight

	closeOnce sync.Once
	closed    chan struct{}
}

func newJupyterKernel(id, session string, ws *websocket.Conn) *jupyterKernel {
	k := &jupyterKernel{
		id:       id,
		session:  session,
		ws:       ws,
		inflight: newInflight(),
		closed:   make(chan struct{}),
	}
	go k.readLoop()
	return k
}

func (k *jupyterKernel) ID() string {
	return k.id
}

func (k *jupyterKernel) Submit(ctx context.Context, code string) (*Stream, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrEmptyCode
	}
	select {
	case <-k.closed:
		return nil, ErrClosed
	default:
	}

	req, err := NewExecuteRequest(k.session, code)
	if err != nil {
		return nil, err
	}
	stream := newStream(req.ID())
	k.inflight.Add(stream, time.Now())
	select {
	case <-k.closed:
		k.inflight.Remove(stream.RequestID())
		return nil, ErrClosed
	default:
	}

	k.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = k.ws.SetWriteDeadline(deadline)
	}
	err = websocket.JSON.Send(k.ws, req)
	_ = k.ws.SetWriteDeadline(time.Time{})
	k.writeMu.Unlock()
	if err != nil {
		k.inflight.Remove(stream.RequestID())
		return nil, fmt.Errorf("send execute_request: %w", err)
	}

	log.Debug().
		Str("kernel", k.id).
		Str("request", req.ID()).
		Msg("execute_request sent")
	return stream, nil
}

func (k *jupyterKernel) Pending() []Pending {
	return k.inflight.List()
}

func (k *jupyterKernel) Close() error {
	return k.shutdown(ErrClosed)
}

func (k *jupyterKernel) shutdown(cause error) error {
	var err error
	k.closeOnce.Do(func() {
		close(k.closed)
		err = k.ws.Close()
		k.inflight.FailAll(cause)
	})
	return err
}

// frame is one raw websocket frame as read off the kernel channel.
type frame struct {
	payloadType byte
	data        []byte
}

// frameCodec hands back raw frames; readLoop decodes each one separately.
var frameCodec = websocket.Codec{
	Marshal: func(v any) ([]byte, byte, error) {
		return nil, 0, errors.New("kernel: frame codec is receive-only")
	},
	Unmarshal: func(data []byte, payloadType byte, v any) error {
		f, ok := v.(*frame)
		if !ok {
			return fmt.Errorf("kernel: frame codec cannot decode into %T", v)
		}
		f.payloadType = payloadType
		f.data = data
		return nil
	},
}

func (k *jupyterKernel) readLoop() {
	for {
		var f frame
		if err := frameCodec.Receive(k.ws, &f); err != nil {
			select {
			case <-k.closed:
			default:
				if !errors.Is(err, io.EOF) {
					log.Warn().Err(err).Str("kernel", k.id).Msg("kernel channel read failed")
				}
			}
			_ = k.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		msg, ok := k.decodeFrame(f)
		if !ok {
			continue
		}
		observability.RecordKernelMessage(msg.Channel, msg.Type())
		stream, complete := k.inflight.Deliver(msg, time.Now())
		if complete {
			stream.finish(nil)
			log.Debug().
				Str("kernel", k.id).
				Str("request", stream.RequestID()).
				Msg("execution complete")
		}
	}
}

// decodeFrame parses one text frame. Binary frames (messages carrying buffers)
// and malformed envelopes are logged, counted and skipped.
func (k *jupyterKernel) decodeFrame(f frame) (Message, bool) {
	if f.payloadType != websocket.TextFrame {
		observability.RecordKernelFrameSkipped("binary")
		log.Debug().Str("kernel", k.id).Int("bytes", len(f.data)).Msg("kernel binary frame skipped")
		return Message{}, false
	}
	var msg Message
	if err := json.Unmarshal(f.data, &msg); err != nil {
		observability.RecordKernelFrameSkipped("malformed")
		log.Warn().Err(err).Str("kernel", k.id).Msg("kernel frame skipped: malformed message")
		return Message{}, false
	}
	return msg, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
