package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/threshold-orchestrator/internal/codec"
	"github.com/yungbote/threshold-orchestrator/internal/domain"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
	"github.com/yungbote/threshold-orchestrator/internal/transport"
)

type cluster struct {
	tr    *transport.Memory
	repo  *MemoryRepository
	hub   *Hub
	subs  *MemorySubmissions
	nodes []*fakeNode
	cfg   Config
}

func newCluster(t *testing.T, op domain.OperationType, nodes int) *cluster {
	t.Helper()
	c := &cluster{
		tr:   transport.NewMemory(logger.Nop()),
		repo: NewMemoryRepository(),
		hub:  NewHub(),
		subs: NewMemorySubmissions(),
		cfg: Config{
			Operation:         op,
			ExpectedNodeCount: nodes,
			PollingTimeout:    2 * time.Second,
			InterPollDelay:    20 * time.Millisecond,
		},
	}
	t.Cleanup(func() { _ = c.tr.Close() })
	action := domain.QueueAction[op]
	for i := 1; i <= nodes; i++ {
		req := fmt.Sprintf("cc%d-%s-req", i, action)
		res := fmt.Sprintf("cc%d-%s-res", i, action)
		c.cfg.RequestQueues = append(c.cfg.RequestQueues, req)
		c.cfg.ResponseQueues = append(c.cfg.ResponseQueues, res)
		n := &fakeNode{name: fmt.Sprintf("cc%d", i), tr: c.tr, replyTo: res}
		if err := c.tr.Subscribe(req, n); err != nil {
			t.Fatalf("subscribe node: %v", err)
		}
		c.nodes = append(c.nodes, n)
	}
	return c
}

func (c *cluster) orchestrator(t *testing.T, tr transport.Transport, mutate func(*Config)) *Orchestrator {
	t.Helper()
	cfg := c.cfg
	if mutate != nil {
		mutate(&cfg)
	}
	if tr == nil {
		tr = c.tr
	}
	o, err := New(cfg, Deps{
		Log:         logger.Nop(),
		Transport:   tr,
		Repo:        c.repo,
		Notifier:    c.hub,
		Submissions: c.subs,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = o.Stop() })
	return o
}

func sortedStrings(in [][]byte) []string {
	out := make([]string, len(in))
	for i, b := range in {
		out[i] = string(b)
	}
	sort.Strings(out)
	return out
}

func TestRequestGathersEveryNode(t *testing.T) {
	c := newCluster(t, domain.OperationChoiceCodesDecryption, 4)
	o := c.orchestrator(t, nil, nil)

	got, err := o.Request(context.Background(), "trk-1", []byte("ballot"))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	want := []string{"cc1:ballot", "cc2:ballot", "cc3:ballot", "cc4:ballot"}
	if fmt.Sprint(sortedStrings(got)) != fmt.Sprint(want) {
		t.Fatalf("partials: want=%v got=%v", want, sortedStrings(got))
	}
	if c.repo.Len() != 0 {
		t.Fatalf("records left after success: %d", c.repo.Len())
	}
}

func TestRequestTimesOutWhenANodeIsSilent(t *testing.T) {
	c := newCluster(t, domain.OperationChoiceCodesVerification, 3)
	c.nodes[2].silent.Store(true)
	o := c.orchestrator(t, nil, func(cfg *Config) { cfg.PollingTimeout = 200 * time.Millisecond })

	_, err := o.Request(context.Background(), "trk", []byte("x"))
	if !errors.Is(err, ErrRequestFailed) || !errors.Is(err, ErrAggregationTimeout) {
		t.Fatalf("err: want request failed + timeout, got %v", err)
	}
	eventually(t, time.Second, func() bool { return c.repo.Len() == 0 }, "record evicted")
}

func TestRequestFailsFastOnRejectedSend(t *testing.T) {
	c := newCluster(t, domain.OperationChoiceCodesDecryption, 3)
	flaky := newFlakyTransport(c.tr, c.cfg.RequestQueues[1])
	o := c.orchestrator(t, flaky, nil)

	start := time.Now()
	_, err := o.Request(context.Background(), "trk", []byte("x"))
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("err: want ErrRequestFailed got %v", err)
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err: want *TransportError got %T %v", err, err)
	}
	if te.Op != "send" || te.Destination != c.cfg.RequestQueues[1] || !errors.Is(err, errQueueDown) {
		t.Fatalf("transport error: %+v", te)
	}
	if elapsed := time.Since(start); elapsed >= c.cfg.PollingTimeout {
		t.Fatalf("waited %s instead of failing fast", elapsed)
	}
}

func TestRequestBeforeStart(t *testing.T) {
	c := newCluster(t, domain.OperationChoiceCodesDecryption, 2)
	o, err := New(c.cfg, Deps{Log: logger.Nop(), Transport: c.tr, Repo: c.repo})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = o.Request(context.Background(), "trk", nil)
	if !errors.Is(err, ErrNotStarted) || !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("err: want not started got %v", err)
	}
}

func TestConcurrentRequestsStayIsolated(t *testing.T) {
	c := newCluster(t, domain.OperationChoiceCodesDecryption, 3)
	o := c.orchestrator(t, nil, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := fmt.Sprintf("req-%d", i)
			got, err := o.Request(context.Background(), "trk", []byte(payload))
			if err != nil {
				errs <- err
				return
			}
			if len(got) != 3 {
				errs <- fmt.Errorf("%s: %d partials", payload, len(got))
				return
			}
			for _, p := range got {
				if !strings.HasSuffix(string(p), ":"+payload) {
					errs <- fmt.Errorf("%s: foreign partial %q", payload, p)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("%v", err)
	}
}

func TestDuplicateDeliveriesAreReturnedNotDeduplicated(t *testing.T) {
	c := newCluster(t, domain.OperationChoiceCodesDecryption, 2)
	c.nodes[0].dupes = 1
	o := c.orchestrator(t, nil, nil)

	got, err := o.Request(context.Background(), "trk", []byte("x"))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(got) < 2 {
		t.Fatalf("len: want>=2 got=%d", len(got))
	}
}

func TestStopUnsubscribesListener(t *testing.T) {
	c := newCluster(t, domain.OperationChoiceCodesDecryption, 1)
	o := c.orchestrator(t, nil, func(cfg *Config) { cfg.PollingTimeout = 100 * time.Millisecond })
	if err := o.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if _, err := o.Request(context.Background(), "trk", nil); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err: want not started got %v", err)
	}
}

func TestTypedRequestDecodesContributions(t *testing.T) {
	type exponentiation struct {
		Node  string `json:"node"`
		Value int    `json:"value"`
	}
	c := newCluster(t, domain.OperationChoiceCodesVerification, 2)
	for _, n := range c.nodes {
		n.silent.Store(true)
	}
	o := c.orchestrator(t, nil, nil)

	// answer with well-formed JSON contributions instead of the tagged echo
	for i, q := range c.cfg.RequestQueues {
		_ = c.tr.Unsubscribe(q, c.nodes[i])
		if err := c.tr.Subscribe(q, &jsonNode{tr: c.tr, replyTo: c.cfg.ResponseQueues[i], node: fmt.Sprintf("cc%d", i+1)}); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}

	typed := NewTyped[string, exponentiation](o, stringCodec{}, codec.JSON[exponentiation]{})
	got, err := typed.Request(context.Background(), "trk", "7")
	if err != nil {
		t.Fatalf("typed Request: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len: want=2 got=%d", len(got))
	}
	for _, g := range got {
		if g.Value != 7 || !strings.HasPrefix(g.Node, "cc") {
			t.Fatalf("decoded: %+v", g)
		}
	}
}

func TestTypedRequestSurfacesMalformedContribution(t *testing.T) {
	c := newCluster(t, domain.OperationChoiceCodesVerification, 1)
	o := c.orchestrator(t, nil, nil)
	typed := NewTyped[string, map[string]int](o, stringCodec{}, codec.JSON[map[string]int]{})
	_, err := typed.Request(context.Background(), "trk", "x")
	var me *MalformedMessageError
	if !errors.As(err, &me) || !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("err: want malformed request failure got %v", err)
	}
}

type stringCodec struct{}

func (stringCodec) Name() string                    { return "string" }
func (stringCodec) Version() uint8                  { return 0 }
func (stringCodec) Encode(v string) ([]byte, error) { return []byte(v), nil }
func (stringCodec) Decode(b []byte) (string, error) { return string(b), nil }

type jsonNode struct {
	tr      transport.Transport
	replyTo string
	node    string
}

func (n *jsonNode) HandleMessage(ctx context.Context, msg []byte) {
	env, err := envelopeCodec.Decode(msg)
	if err != nil {
		return
	}
	env.Payload = []byte(fmt.Sprintf(`{"node":%q,"value":%s}`, n.node, env.Payload))
	raw, _ := envelopeCodec.Encode(env)
	_ = n.tr.Send(ctx, n.replyTo, raw)
}

func TestSubmitStoresAggregate(t *testing.T) {
	c := newCluster(t, domain.OperationChoiceCodesGeneration, 3)
	o := c.orchestrator(t, nil, func(cfg *Config) { cfg.Async = true })
	ctx := context.Background()

	id, err := o.Submit(ctx, "trk", "vcs-1", []byte("cc"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("Submit returned nil correlation id")
	}
	eventually(t, 2*time.Second, func() bool {
		st, err := o.Status(ctx, "vcs-1")
		return err == nil && st == domain.StatusComputed
	}, "submission computed")

	got, err := o.Result(ctx, "vcs-1")
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if fmt.Sprint(sortedStrings(got)) != fmt.Sprint([]string{"cc1:cc", "cc2:cc", "cc3:cc"}) {
		t.Fatalf("result: %v", sortedStrings(got))
	}
	if c.repo.Len() != 0 {
		t.Fatalf("partials left after aggregate stored")
	}

	if _, err := o.Submit(ctx, "trk", "vcs-1", []byte("cc")); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("duplicate submit: want=%v got=%v", ErrDuplicateEntry, err)
	}
	if _, err := o.Status(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("status missing: want=%v got=%v", ErrNotFound, err)
	}
}

func TestSubmitStillComputing(t *testing.T) {
	c := newCluster(t, domain.OperationChoiceCodesGeneration, 2)
	c.nodes[1].silent.Store(true)
	o := c.orchestrator(t, nil, func(cfg *Config) { cfg.Async = true })
	ctx := context.Background()

	if _, err := o.Submit(ctx, "trk", "vcs-2", []byte("cc")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if st, err := o.Status(ctx, "vcs-2"); err != nil || st != domain.StatusComputing {
		t.Fatalf("status: want=%s got=%s err=%v", domain.StatusComputing, st, err)
	}
	if _, err := o.Result(ctx, "vcs-2"); !errors.Is(err, ErrStillComputing) {
		t.Fatalf("result: want=%v got=%v", ErrStillComputing, err)
	}
}

func TestSubmitRollsBackOnRejectedSend(t *testing.T) {
	c := newCluster(t, domain.OperationChoiceCodesGeneration, 2)
	flaky := newFlakyTransport(c.tr, c.cfg.RequestQueues[0])
	o := c.orchestrator(t, flaky, func(cfg *Config) { cfg.Async = true })
	ctx := context.Background()

	_, err := o.Submit(ctx, "trk", "vcs-3", []byte("cc"))
	if !isTransport(err) {
		t.Fatalf("err: want transport error got %v", err)
	}
	if _, err := o.Status(ctx, "vcs-3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("submission kept after failed broadcast: %v", err)
	}
}

func TestModeMismatch(t *testing.T) {
	c := newCluster(t, domain.OperationChoiceCodesGeneration, 1)
	async := c.orchestrator(t, nil, func(cfg *Config) { cfg.Async = true })
	if _, err := async.Request(context.Background(), "trk", nil); !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("Request on async op: %v", err)
	}
	blocking := c.orchestrator(t, nil, nil)
	if _, err := blocking.Submit(context.Background(), "trk", "k", nil); !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("Submit on sync op: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	good := Config{
		Operation:         domain.OperationMixDecKeyGeneration,
		ExpectedNodeCount: 4,
		PollingTimeout:    time.Second,
		InterPollDelay:    100 * time.Millisecond,
		RequestQueues:     []string{"a"},
		ResponseQueues:    []string{"b"},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cases := map[string]func(*Config){
		"unknown op":    func(c *Config) { c.Operation = "nope" },
		"zero nodes":    func(c *Config) { c.ExpectedNodeCount = 0 },
		"zero timeout":  func(c *Config) { c.PollingTimeout = 0 },
		"delay>timeout": func(c *Config) { c.InterPollDelay = 2 * time.Second },
		"no req queues": func(c *Config) { c.RequestQueues = nil },
		"no res queues": func(c *Config) { c.ResponseQueues = nil },
		"blank queue":   func(c *Config) { c.RequestQueues = []string{" "} },
	}
	for name, mutate := range cases {
		cfg := good
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: accepted", name)
		}
	}
}
