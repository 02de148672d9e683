package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"octo/internal/domain"
	"octo/internal/infra/crypto"
)

// testNode is a fully wired node backed by memory repositories.
type testNode struct {
	id        testIdentity
	clock     *fixedClock
	nodes     *memNodeRepo
	edges     *memEdgeRepo
	events    *memEventRepo
	shares    *memShareRepo
	intake    *memIntakeRepo
	validator *EnvelopeValidator
	registry  *NodeRegistry
	queue     *EventQueue
	delivery  *DeliveryEngine
	publisher *Publisher
	ledger    *ShareLedger
	docs      *IntakeService
	peer      *PeerService
	poller    *Poller
	handshake *Handshaker
}

func newTestNode(t *testing.T, name string, policy domain.TrustPolicy, net *loopTransport) *testNode {
	t.Helper()
	n := &testNode{
		id:     newTestIdentity(t, name, "http://"+name+".test"),
		clock:  newFixedClock(),
		nodes:  newMemNodeRepo(),
		edges:  newMemEdgeRepo(),
		events: newMemEventRepo(),
		shares: newMemShareRepo(),
		intake: &memIntakeRepo{},
	}
	self := n.id.node.RID
	var err error
	n.registry = NewNodeRegistry(n.nodes, policy, nil)
	n.registry.Now = n.clock.Now
	n.validator, err = NewEnvelopeValidator(policy, self, n.id.key, n.registry, crypto.NewService(), nil, nil)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	n.queue = NewEventQueue(self, n.events, n.edges, n.shares, time.Hour, nil, nil)
	n.queue.Now = n.clock.Now
	n.delivery = NewDeliveryEngine(n.queue, n.edges, n.nodes, net, n.validator, RetryPolicy{MaxAttempts: 2}, nil, nil)
	n.delivery.Sleep = func(context.Context, time.Duration) error { return nil }
	n.publisher = NewPublisher(n.queue, n.delivery, nil)
	n.ledger = NewShareLedger(n.shares, n.queue, n.delivery, n.registry, nil)
	n.ledger.Now = n.clock.Now
	n.docs = NewIntakeService(n.intake, "", nil, nil, nil, nil, nil)
	n.docs.Now = n.clock.Now
	n.peer = NewPeerService(n.validator, n.queue, n.docs, n.edges, n.nodes, nil)
	n.poller = NewPoller(self, n.edges, n.nodes, net, n.validator, n.docs, time.Minute, 10, nil)
	n.handshake = NewHandshaker(n.id.node, n.registry, n.validator, net, nil)
	if net != nil {
		net.add(n)
	}
	return n
}

func (n *testNode) rid() string { return n.id.node.RID }

// knows registers other in this node's registry with its real key.
func (n *testNode) knows(t *testing.T, other *testNode) {
	t.Helper()
	if _, err := n.nodes.Upsert(context.Background(), other.id.node); err != nil {
		t.Fatalf("upsert node: %v", err)
	}
}

// loopTransport routes peer calls to in-process nodes by base URL.
type loopTransport struct {
	mu       sync.Mutex
	nodes    map[string]*testNode
	down     map[string]bool
	pushes   int
	pushErrs map[string]error
}

func newLoopTransport() *loopTransport {
	return &loopTransport{nodes: map[string]*testNode{}, down: map[string]bool{}, pushErrs: map[string]error{}}
}

func (l *loopTransport) add(n *testNode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nodes[n.id.node.BaseURL] = n
}

var errUnreachable = errors.New("peer unreachable")

func (l *loopTransport) lookup(baseURL string) (*testNode, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down[baseURL] {
		return nil, errUnreachable
	}
	n, ok := l.nodes[baseURL]
	if !ok {
		return nil, errUnreachable
	}
	return n, nil
}

func (l *loopTransport) Identity(ctx context.Context, baseURL string) (domain.Node, error) {
	n, err := l.lookup(baseURL)
	if err != nil {
		return domain.Node{}, err
	}
	return n.id.node, nil
}

func (l *loopTransport) Handshake(ctx context.Context, baseURL string, env domain.SignedEnvelope) (domain.SignedEnvelope, error) {
	n, err := l.lookup(baseURL)
	if err != nil {
		return domain.SignedEnvelope{}, err
	}
	return n.handshake.Accept(ctx, env)
}

func (l *loopTransport) Poll(ctx context.Context, baseURL string, env domain.SignedEnvelope) (domain.SignedEnvelope, error) {
	n, err := l.lookup(baseURL)
	if err != nil {
		return domain.SignedEnvelope{}, err
	}
	return n.peer.Poll(ctx, env)
}

func (l *loopTransport) Confirm(ctx context.Context, baseURL string, env domain.SignedEnvelope) error {
	n, err := l.lookup(baseURL)
	if err != nil {
		return err
	}
	_, err = n.peer.Confirm(ctx, env)
	return err
}

func (l *loopTransport) Push(ctx context.Context, baseURL string, env domain.SignedEnvelope) error {
	l.mu.Lock()
	l.pushes++
	pushErr := l.pushErrs[baseURL]
	l.mu.Unlock()
	if pushErr != nil {
		return pushErr
	}
	n, err := l.lookup(baseURL)
	if err != nil {
		return err
	}
	_, err = n.peer.Receive(ctx, env)
	return err
}

func (l *loopTransport) setDown(baseURL string, down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.down[baseURL] = down
}

func (l *loopTransport) pushCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pushes
}

// connect registers both nodes with each other and approves an edge from provider to receiver.
func connect(t *testing.T, provider, receiver *testNode, edgeType domain.EdgeType, ridTypes ...string) domain.Edge {
	t.Helper()
	provider.knows(t, receiver)
	receiver.knows(t, provider)
	edge := approvedEdge("orn:koi-net.edge:"+provider.id.node.Name+"-"+receiver.id.node.Name, provider.rid(), receiver.rid(), edgeType, ridTypes...)
	provider.edges.add(edge)
	receiver.edges.add(edge)
	return edge
}
