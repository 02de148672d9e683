package usecase

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"octo/internal/domain"
)

type memNodeRepo struct {
	mu      sync.Mutex
	nodes   map[string]domain.Node
	aliases map[string]string
}

func newMemNodeRepo() *memNodeRepo {
	return &memNodeRepo{nodes: map[string]domain.Node{}, aliases: map[string]string{}}
}

func (r *memNodeRepo) Upsert(ctx context.Context, node domain.Node) (domain.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.nodes[node.RID]; ok {
		if len(node.PublicKey) == 0 {
			node.PublicKey = existing.PublicKey
		}
		if node.Name == "" {
			node.Name = existing.Name
		}
		if node.BaseURL == "" {
			node.BaseURL = existing.BaseURL
		}
	}
	r.nodes[node.RID] = node
	return node, nil
}

func (r *memNodeRepo) Get(ctx context.Context, rid string) (*domain.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[rid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &n, nil
}

func (r *memNodeRepo) ResolveAlias(ctx context.Context, alias string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rid, ok := r.aliases[alias]
	if !ok {
		return "", domain.ErrNotFound
	}
	return rid, nil
}

func (r *memNodeRepo) SetAlias(ctx context.Context, alias, rid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = rid
	return nil
}

func (r *memNodeRepo) MarkSeen(ctx context.Context, rid string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[rid]
	if !ok {
		return domain.ErrNotFound
	}
	n.LastSeen = at
	r.nodes[rid] = n
	return nil
}

func (r *memNodeRepo) SetStatus(ctx context.Context, rid string, status domain.NodeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[rid]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = status
	r.nodes[rid] = n
	return nil
}

func (r *memNodeRepo) List(ctx context.Context) ([]domain.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RID < out[j].RID })
	return out, nil
}

type memEdgeRepo struct {
	mu    sync.Mutex
	edges map[string]domain.Edge
}

func newMemEdgeRepo() *memEdgeRepo {
	return &memEdgeRepo{edges: map[string]domain.Edge{}}
}

func (r *memEdgeRepo) Create(ctx context.Context, edge domain.Edge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.edges[edge.RID]; ok {
		return domain.ErrConflict
	}
	r.edges[edge.RID] = edge
	return nil
}

func (r *memEdgeRepo) Get(ctx context.Context, rid string) (*domain.Edge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.edges[rid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (r *memEdgeRepo) UpdateStatus(ctx context.Context, rid string, status domain.EdgeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.edges[rid]
	if !ok {
		return domain.ErrNotFound
	}
	e.Status = status
	r.edges[rid] = e
	return nil
}

func (r *memEdgeRepo) UpdateRIDTypes(ctx context.Context, rid string, ridTypes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.edges[rid]
	if !ok {
		return domain.ErrNotFound
	}
	e.RIDTypes = ridTypes
	r.edges[rid] = e
	return nil
}

func (r *memEdgeRepo) ListApproved(ctx context.Context, nodeRID string, direction domain.Direction) ([]domain.Edge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Edge
	for _, e := range r.edges {
		if e.Status != domain.EdgeStatusApproved {
			continue
		}
		isSource := e.SourceNode == nodeRID
		isTarget := e.TargetNode == nodeRID
		switch direction {
		case domain.DirectionOutgoing:
			if !isSource {
				continue
			}
		case domain.DirectionIncoming:
			if !isTarget {
				continue
			}
		default:
			if !isSource && !isTarget {
				continue
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RID < out[j].RID })
	return out, nil
}

func (r *memEdgeRepo) add(edge domain.Edge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges[edge.RID] = edge
}

type memEventRepo struct {
	mu        sync.Mutex
	seq       int64
	events    []domain.Event
	delivered map[string]map[string]bool
	confirmed map[string]map[string]bool
	insertErr error
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{delivered: map[string]map[string]bool{}, confirmed: map[string]map[string]bool{}}
}

func eventKey(source, id string) string { return source + "|" + id }

func (r *memEventRepo) Insert(ctx context.Context, event domain.Event) (domain.Event, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return domain.Event{}, false, r.insertErr
	}
	for _, e := range r.events {
		if e.SourceNode == event.SourceNode && e.EventID == event.EventID {
			return e, false, nil
		}
	}
	r.seq++
	event.Seq = r.seq
	r.events = append(r.events, event)
	return event, true, nil
}

func (r *memEventRepo) ListPending(ctx context.Context, q EventQuery) ([]domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	allowed := map[string]bool{}
	for _, t := range q.RIDTypes {
		allowed[t] = true
	}
	var out []domain.Event
	for _, e := range r.events {
		if e.SourceNode != q.SourceNode || e.Expired(q.Now) || e.Seq <= q.AfterSeq {
			continue
		}
		if e.TargetNode != nil && *e.TargetNode != q.Requester {
			continue
		}
		if !allowed[domain.RIDType(e.RID)] {
			continue
		}
		if r.delivered[eventKey(e.SourceNode, e.EventID)][q.Requester] {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *memEventRepo) MarkDelivered(ctx context.Context, sourceNode, nodeRID string, eventIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range eventIDs {
		k := eventKey(sourceNode, id)
		if r.delivered[k] == nil {
			r.delivered[k] = map[string]bool{}
		}
		r.delivered[k][nodeRID] = true
	}
	return nil
}

func (r *memEventRepo) MarkConfirmed(ctx context.Context, sourceNode, nodeRID string, eventIDs []string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range eventIDs {
		found := false
		for _, e := range r.events {
			if e.SourceNode == sourceNode && e.EventID == id && !e.Expired(now) {
				found = true
				break
			}
		}
		if !found {
			continue
		}
		k := eventKey(sourceNode, id)
		if r.confirmed[k] == nil {
			r.confirmed[k] = map[string]bool{}
		}
		r.confirmed[k][nodeRID] = true
		n++
	}
	return n, nil
}

func (r *memEventRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	var n int64
	for _, e := range r.events {
		if e.Expired(now) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return n, nil
}

func (r *memEventRepo) confirmedBy(source, id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for node := range r.confirmed[eventKey(source, id)] {
		out = append(out, node)
	}
	sort.Strings(out)
	return out
}

func (r *memEventRepo) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

type memShareRepo struct {
	mu     sync.Mutex
	shares map[string]domain.OutboundShare
}

func newMemShareRepo() *memShareRepo {
	return &memShareRepo{shares: map[string]domain.OutboundShare{}}
}

func (r *memShareRepo) Record(ctx context.Context, documentRID, targetNode string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := documentRID + "|" + targetNode
	if existing, ok := r.shares[k]; ok && existing.Active() {
		return nil
	}
	r.shares[k] = domain.OutboundShare{DocumentRID: documentRID, TargetNode: targetNode, SharedAt: at}
	return nil
}

func (r *memShareRepo) MarkRetracted(ctx context.Context, documentRID, targetNode string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := documentRID + "|" + targetNode
	existing, ok := r.shares[k]
	if !ok || !existing.Active() {
		return false, nil
	}
	existing.RetractedAt = &at
	r.shares[k] = existing
	return true, nil
}

func (r *memShareRepo) ListActiveByTarget(ctx context.Context, targetNode string) ([]domain.OutboundShare, error) {
	return r.list(func(s domain.OutboundShare) bool { return s.TargetNode == targetNode }), nil
}

func (r *memShareRepo) ListActiveByDocument(ctx context.Context, documentRID string) ([]domain.OutboundShare, error) {
	return r.list(func(s domain.OutboundShare) bool { return s.DocumentRID == documentRID }), nil
}

func (r *memShareRepo) list(match func(domain.OutboundShare) bool) []domain.OutboundShare {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OutboundShare
	for _, s := range r.shares {
		if s.Active() && match(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentRID < out[j].DocumentRID })
	return out
}

func (r *memShareRepo) get(documentRID, targetNode string) (domain.OutboundShare, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shares[documentRID+"|"+targetNode]
	return s, ok
}

type memIntakeRepo struct {
	mu   sync.Mutex
	seq  int
	docs []domain.SharedDocument
}

func (r *memIntakeRepo) Insert(ctx context.Context, doc domain.SharedDocument) (domain.SharedDocument, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc.EventID != nil {
		for _, d := range r.docs {
			if d.EventID != nil && *d.EventID == *doc.EventID && d.SenderNode == doc.SenderNode {
				return d, false, nil
			}
		}
	}
	r.seq++
	doc.ID = fmt.Sprintf("doc-%d", r.seq)
	r.docs = append(r.docs, doc)
	return doc, true, nil
}

func (r *memIntakeRepo) RetractDocument(ctx context.Context, documentRID, senderNode string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.docs {
		if r.docs[i].DocumentRID == documentRID && r.docs[i].SenderNode == senderNode {
			r.docs[i].Status = domain.DocumentRetracted
			n++
		}
	}
	return n, nil
}

func (r *memIntakeRepo) Latest(ctx context.Context, documentRID string) (*domain.SharedDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.docs) - 1; i >= 0; i-- {
		if r.docs[i].DocumentRID == documentRID {
			d := r.docs[i]
			return &d, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memIntakeRepo) UpdateReview(ctx context.Context, doc domain.SharedDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.docs {
		if r.docs[i].ID != doc.ID {
			continue
		}
		if r.docs[i].Status == domain.DocumentRetracted {
			return domain.ErrConflict
		}
		r.docs[i].Status = doc.Status
		r.docs[i].IntakeStatus = doc.IntakeStatus
		r.docs[i].ReviewedAt = doc.ReviewedAt
		r.docs[i].ReviewedBy = doc.ReviewedBy
		r.docs[i].ReviewNotes = doc.ReviewNotes
		return nil
	}
	return domain.ErrNotFound
}

func (r *memIntakeRepo) List(ctx context.Context, filter domain.IntakeFilter) ([]domain.SharedDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SharedDocument
	for _, d := range r.docs {
		if filter.DocumentRID != "" && d.DocumentRID != filter.DocumentRID {
			continue
		}
		if filter.SenderNode != "" && d.SenderNode != filter.SenderNode {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

type memXrefRepo struct {
	mu   sync.Mutex
	refs map[string]domain.CrossReference
}

func newMemXrefRepo() *memXrefRepo {
	return &memXrefRepo{refs: map[string]domain.CrossReference{}}
}

func (r *memXrefRepo) Upsert(ctx context.Context, ref domain.CrossReference) (domain.CrossReference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := ref.LocalURI + "|" + ref.RemoteRID
	if existing, ok := r.refs[k]; ok {
		ref.CreatedAt = existing.CreatedAt
	}
	r.refs[k] = ref
	return ref, nil
}

func (r *memXrefRepo) ListByRemote(ctx context.Context, remoteRID string) ([]domain.CrossReference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CrossReference
	for _, ref := range r.refs {
		if ref.RemoteRID == remoteRID {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalURI < out[j].LocalURI })
	return out, nil
}

func (r *memXrefRepo) ListByLocal(ctx context.Context, localURI string) ([]domain.CrossReference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CrossReference
	for _, ref := range r.refs {
		if ref.LocalURI == localURI {
			out = append(out, ref)
		}
	}
	return out, nil
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testIdentity struct {
	node domain.Node
	key  ed25519.PrivateKey
}

func newTestIdentity(t *testing.T, name, baseURL string) testIdentity {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return testIdentity{
		node: domain.Node{
			RID:       domain.NodeRID(name, pub),
			Name:      name,
			Type:      domain.NodeTypeFull,
			BaseURL:   baseURL,
			PublicKey: pub,
			Status:    domain.NodeStatusActive,
		},
		key: priv,
	}
}

func approvedEdge(rid, source, target string, edgeType domain.EdgeType, ridTypes ...string) domain.Edge {
	return domain.Edge{
		RID:        rid,
		SourceNode: source,
		TargetNode: target,
		EdgeType:   edgeType,
		Status:     domain.EdgeStatusApproved,
		RIDTypes:   ridTypes,
	}
}
